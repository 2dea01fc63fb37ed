package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/roach88/strand/internal/def"
	"github.com/roach88/strand/internal/store"
)

// Scheduler defaults. The lease, retry budget, backoff base and HTTP
// client are tunable via options; the idle pacing bounds are fixed.
const (
	DefaultLease       = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 1 * time.Second
	DefaultHTTPTimeout = 30 * time.Second

	idleMin    = 100 * time.Millisecond
	idleMax    = 5 * time.Second
	idleJitter = 500 * time.Millisecond
	idleEmpty  = 1 * time.Second
)

// Worker executes one leaf step at a time against instances leased from
// the store. Run as many workers as you like, across as many processes
// as you like; the lease serializes them per instance.
type Worker struct {
	store *store.Store
	id    string
	env   Env

	lease       time.Duration
	maxAttempts int
	backoffBase time.Duration

	now func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithLease sets the lease duration stamped on claimed instances.
func WithLease(d time.Duration) Option {
	return func(w *Worker) { w.lease = d }
}

// WithMaxAttempts sets the retry budget per step.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = n }
}

// WithBackoffBase sets the base of the exponential retry backoff.
func WithBackoffBase(d time.Duration) Option {
	return func(w *Worker) { w.backoffBase = d }
}

// WithHTTPClient overrides the HTTP client used by HitEndpoint nodes.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Worker) { w.env.HTTP = c }
}

// WithMailer overrides the SendEmail sink.
func WithMailer(m Mailer) Option {
	return func(w *Worker) { w.env.Mailer = m }
}

// WithClock overrides the wall clock. Used by tests to run sleeps and
// lease expiry deterministically.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithIdentity overrides the generated worker identity.
func WithIdentity(id string) Option {
	return func(w *Worker) { w.id = id }
}

// NewWorker creates a worker over the given store.
func NewWorker(s *store.Store, opts ...Option) *Worker {
	w := &Worker{
		store:       s,
		id:          Identity(),
		lease:       DefaultLease,
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		now:         time.Now,
		env: Env{
			HTTP:   &http.Client{Timeout: DefaultHTTPTimeout},
			Mailer: LogMailer{},
		},
	}
	w.env.KV = s
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's lease identity.
func (w *Worker) ID() string {
	return w.id
}

// Run is the worker loop: claim, execute, commit, pace. Blocks until the
// context is cancelled.
//
// ERROR HANDLING: a failed pass is logged and the loop continues after a
// short sleep. The claimed lease, if any, expires naturally and another
// worker picks the instance up. One bad instance cannot halt the worker.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker starting", "worker_id", w.id)
	for {
		if ctx.Err() != nil {
			slog.Info("worker stopping: context cancelled", "worker_id", w.id)
			return ctx.Err()
		}

		worked, err := w.RunOnce(ctx)
		if err != nil {
			slog.Error("worker pass failed", "worker_id", w.id, "error", err)
			if !sleepCtx(ctx, idleEmpty) {
				return ctx.Err()
			}
			continue
		}
		if worked {
			continue
		}
		if !sleepCtx(ctx, w.idleDelay(ctx)) {
			return ctx.Err()
		}
	}
}

// RunOnce claims at most one instance and advances it by one step.
// Returns whether any work was found. Exposed for tests and for the
// harness, which drives instances to quiescence without pacing.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	now := w.now()
	inst, err := w.store.ClaimNext(ctx, w.id, w.lease, now)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if inst == nil {
		return false, nil
	}

	slog.Debug("instance claimed",
		"worker_id", w.id,
		"instance_id", inst.ID,
		"definition_id", inst.DefinitionID,
	)

	root, err := w.loadDefinition(ctx, inst)
	if err != nil {
		// Structural corruption: the instance cannot make progress.
		slog.Error("instance failed", "instance_id", inst.ID, "error", err)
		if serr := w.store.UpdateInstanceStatus(ctx, inst.ID, store.InstanceFailed, nil); serr != nil {
			return true, fmt.Errorf("mark instance failed: %w", serr)
		}
		return true, nil
	}

	steps, err := w.store.StepsForInstance(ctx, inst.ID)
	if err != nil {
		return true, fmt.Errorf("load steps for %s: %w", inst.ID, err)
	}

	sel := FindNext(root, steps, inst.Blackboard, "")
	if sel == nil || IsComplete(root, steps, inst.Blackboard, "") {
		slog.Info("instance completed", "instance_id", inst.ID)
		if err := w.store.UpdateInstanceStatus(ctx, inst.ID, store.InstanceCompleted, nil); err != nil {
			return true, fmt.Errorf("mark instance completed: %w", err)
		}
		return true, nil
	}

	step, err := w.store.GetOrCreateStep(ctx, inst.ID, sel.EffectiveID)
	if err != nil {
		return true, fmt.Errorf("get or create step: %w", err)
	}
	if step.Status == store.StepSucceeded {
		// Concurrent state drift: a previous holder committed this step
		// after we loaded. Release and let the next pass rediscover.
		if err := w.store.ReleaseInstanceLease(ctx, inst.ID); err != nil {
			return true, fmt.Errorf("release lease: %w", err)
		}
		return true, nil
	}

	attempt, err := w.store.IncrementStepAttempts(ctx, inst.ID, sel.EffectiveID)
	if err != nil {
		return true, fmt.Errorf("increment attempts: %w", err)
	}

	slog.Debug("executing step",
		"instance_id", inst.ID,
		"effective_id", sel.EffectiveID,
		"node_type", sel.Node.Type,
		"attempt", attempt,
	)

	result := Execute(ctx, w.env, sel.Node, sel.Blackboard, attempt, now)

	if len(result.Patches) > 0 {
		newBB, err := def.ApplyPatches(inst.Blackboard, result.Patches)
		if err != nil {
			// A malformed patch is a node bug, not a transient fault,
			// but it still flows through the retry budget like any
			// other executor failure.
			result = Failf("apply patches: %v", err)
		} else {
			inst.Blackboard = newBB
			if err := w.store.UpdateInstanceBlackboard(ctx, inst.ID, newBB); err != nil {
				return true, fmt.Errorf("persist blackboard: %w", err)
			}
		}
	}

	if err := w.commit(ctx, inst, root, steps, sel, attempt, result); err != nil {
		return true, err
	}
	return true, nil
}

// commit writes the step outcome and the instance's next schedule. Lease
// fields clear as part of every status update.
func (w *Worker) commit(ctx context.Context, inst *store.Instance, root *def.Node, steps map[string]store.Step, sel *Selection, attempt int, result StepResult) error {
	now := w.now()
	switch result.Kind {
	case ResultSuccess:
		if err := w.store.UpdateStepSuccess(ctx, inst.ID, sel.EffectiveID, result.Output); err != nil {
			return fmt.Errorf("commit success: %w", err)
		}
		st := steps[sel.EffectiveID]
		st.NodeID = sel.EffectiveID
		st.Status = store.StepSucceeded
		steps[sel.EffectiveID] = st
		if IsComplete(root, steps, inst.Blackboard, "") {
			slog.Info("instance completed", "instance_id", inst.ID)
			return w.store.UpdateInstanceStatus(ctx, inst.ID, store.InstanceCompleted, nil)
		}
		return w.store.UpdateInstanceStatus(ctx, inst.ID, store.InstanceRunnable, &now)

	case ResultWait:
		// Wait is success: the scheduling commitment is what's durable.
		if err := w.store.UpdateStepSuccess(ctx, inst.ID, sel.EffectiveID, result.Output); err != nil {
			return fmt.Errorf("commit wait: %w", err)
		}
		at := result.NextRunAt
		slog.Debug("instance waiting",
			"instance_id", inst.ID,
			"effective_id", sel.EffectiveID,
			"until", at,
		)
		return w.store.UpdateInstanceStatus(ctx, inst.ID, store.InstanceRunnable, &at)

	case ResultFail:
		if attempt < w.maxAttempts {
			if err := w.store.UpdateStepError(ctx, inst.ID, sel.EffectiveID, result.Err); err != nil {
				return fmt.Errorf("commit retry: %w", err)
			}
			retryAt := now.Add(backoffDelay(w.backoffBase, attempt))
			if result.RetryAt.After(retryAt) {
				retryAt = result.RetryAt
			}
			slog.Warn("step failed, will retry",
				"instance_id", inst.ID,
				"effective_id", sel.EffectiveID,
				"attempt", attempt,
				"retry_at", retryAt,
				"error", result.Err,
			)
			return w.store.UpdateInstanceStatus(ctx, inst.ID, store.InstanceRunnable, &retryAt)
		}
		if err := w.store.UpdateStepFailed(ctx, inst.ID, sel.EffectiveID, result.Err); err != nil {
			return fmt.Errorf("commit failure: %w", err)
		}
		slog.Error("step exhausted retries, instance failed",
			"instance_id", inst.ID,
			"effective_id", sel.EffectiveID,
			"attempts", attempt,
			"error", result.Err,
		)
		return w.store.UpdateInstanceStatus(ctx, inst.ID, store.InstanceFailed, nil)

	default:
		return fmt.Errorf("unknown result kind %q", result.Kind)
	}
}

// loadDefinition fetches and parses the definition tree for an instance.
func (w *Worker) loadDefinition(ctx context.Context, inst *store.Instance) (*def.Node, error) {
	row, err := w.store.GetDefinitionByID(ctx, inst.DefinitionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &RunError{
			Code:       ErrCodeMissingDefinition,
			Message:    fmt.Sprintf("definition %s does not exist", inst.DefinitionID),
			InstanceID: inst.ID,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load definition %s: %w", inst.DefinitionID, err)
	}
	root, err := def.ParseTree(row.DefinitionJSON)
	if err != nil {
		return nil, &RunError{
			Code:       ErrCodeBadDefinition,
			Message:    err.Error(),
			InstanceID: inst.ID,
		}
	}
	return root, nil
}

// idleDelay computes how long to pace when no instance was claimable:
// until the earliest runnable schedule, clamped to [100ms, 5s] plus
// jitter, or 1s flat when nothing is runnable at all.
func (w *Worker) idleDelay(ctx context.Context) time.Duration {
	next, err := w.store.NextRunTime(ctx)
	if err != nil {
		slog.Warn("idle pacing query failed", "error", err)
		return idleEmpty
	}
	if next == nil {
		return idleEmpty
	}
	d := clampDuration(next.Sub(w.now()), idleMin, idleMax)
	return d + time.Duration(rand.Int63n(int64(idleJitter)))
}

// sleepCtx sleeps for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
