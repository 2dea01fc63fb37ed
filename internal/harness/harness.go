package harness

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/strand/internal/def"
	"github.com/roach88/strand/internal/engine"
	"github.com/roach88/strand/internal/store"
)

// Epoch is the fake clock's start time. Fixed so snapshots and schedule
// assertions are reproducible.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario describes one workflow execution to drive under test.
type Scenario struct {
	Name       string
	Definition *def.Node
	Blackboard map[string]any

	// HTTPClient overrides the worker's HTTP client (httptest servers
	// respond fast, so the default timeout is fine; override to inject
	// transport failures).
	HTTPClient *http.Client

	// MaxPasses bounds RunToQuiescence. Defaults to 100.
	MaxPasses int
}

// Run is a started scenario with its collaborators exposed.
type Run struct {
	T        *testing.T
	Store    *store.Store
	Worker   *engine.Worker
	Clock    *Clock
	Mailer   *RecordingMailer
	Instance store.Instance

	maxPasses int
}

// RecordingMailer captures SendEmail emissions.
type RecordingMailer struct {
	mu     sync.Mutex
	emails []engine.Email
}

// Send implements engine.Mailer.
func (m *RecordingMailer) Send(_ context.Context, email engine.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = append(m.emails, email)
	return nil
}

// Emails returns the captured emails in emission order.
func (m *RecordingMailer) Emails() []engine.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.Email, len(m.emails))
	copy(out, m.emails)
	return out
}

// Start deploys the scenario's definition into a fresh temp store and
// creates one instance, runnable at the epoch.
func Start(t *testing.T, s *Scenario) *Run {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "strand.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	data, err := def.MarshalTree(s.Definition)
	require.NoError(t, err)

	ctx := context.Background()
	d, err := st.UpsertDefinition(ctx, s.Name, data)
	require.NoError(t, err)

	clock := NewClock(Epoch)
	inst, err := st.CreateInstance(ctx, d.ID, s.Blackboard, clock.Now())
	require.NoError(t, err)

	mailer := &RecordingMailer{}
	opts := []engine.Option{
		engine.WithClock(clock.Now),
		engine.WithMailer(mailer),
		engine.WithIdentity("harness-worker"),
	}
	if s.HTTPClient != nil {
		opts = append(opts, engine.WithHTTPClient(s.HTTPClient))
	}

	maxPasses := s.MaxPasses
	if maxPasses == 0 {
		maxPasses = 100
	}

	return &Run{
		T:         t,
		Store:     st,
		Worker:    engine.NewWorker(st, opts...),
		Clock:     clock,
		Mailer:    mailer,
		Instance:  inst,
		maxPasses: maxPasses,
	}
}

// Step runs a single worker pass, reporting whether work was found.
func (r *Run) Step() bool {
	r.T.Helper()
	worked, err := r.Worker.RunOnce(context.Background())
	require.NoError(r.T, err)
	return worked
}

// RunToQuiescence drives worker passes until the instance is terminal
// or nothing will ever become runnable. When no instance is claimable
// but a future schedule exists, the fake clock jumps to it, so sleeps
// and retry backoffs take no wall-clock time.
func (r *Run) RunToQuiescence() {
	r.T.Helper()
	ctx := context.Background()
	for pass := 0; pass < r.maxPasses; pass++ {
		if r.Step() {
			continue
		}
		inst, err := r.Store.GetInstance(ctx, r.Instance.ID)
		require.NoError(r.T, err)
		if inst.Status != store.InstanceRunnable {
			return
		}
		next, err := r.Store.NextRunTime(ctx)
		require.NoError(r.T, err)
		if next == nil {
			return
		}
		r.Clock.Set(*next)
	}
	r.T.Fatalf("scenario did not quiesce within %d passes", r.maxPasses)
}

// Final returns the instance row and step table after execution.
func (r *Run) Final() (store.Instance, map[string]store.Step) {
	r.T.Helper()
	ctx := context.Background()
	inst, err := r.Store.GetInstance(ctx, r.Instance.ID)
	require.NoError(r.T, err)
	steps, err := r.Store.StepsForInstance(ctx, inst.ID)
	require.NoError(r.T, err)
	return inst, steps
}
