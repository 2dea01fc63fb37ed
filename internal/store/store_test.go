package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func deployTestDefinition(t *testing.T, s *Store, name string) Definition {
	t.Helper()
	d, err := s.UpsertDefinition(context.Background(), name, []byte(`{"type":"Sequence","id":"root","children":[{"type":"Sleep","id":"s","props":{"seconds":1}}]}`))
	require.NoError(t, err)
	return d
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}
}

func TestUpsertDefinition_ReplacesByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := deployTestDefinition(t, s, "wf")
	second, err := s.UpsertDefinition(ctx, "wf", []byte(`{"type":"Sequence","id":"r2","children":[{"type":"Sleep","id":"s2","props":{"seconds":2}}]}`))
	require.NoError(t, err)

	// Same name keeps the id stable; the tree is replaced.
	assert.Equal(t, first.ID, second.ID)
	assert.Contains(t, string(second.DefinitionJSON), "r2")

	defs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestUpsertDefinition_NFCNormalizesName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// "é" precomposed vs combining: one canonical row.
	_, err := s.UpsertDefinition(ctx, "café", []byte(`{"type":"Sleep","id":"s","props":{"seconds":1}}`))
	require.NoError(t, err)
	_, err = s.UpsertDefinition(ctx, "café", []byte(`{"type":"Sleep","id":"s","props":{"seconds":1}}`))
	require.NoError(t, err)

	defs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	_, err = s.GetDefinition(ctx, "café")
	assert.NoError(t, err)
}

func TestGetDefinition_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDefinition(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateInstance_Defaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")

	inst, err := s.CreateInstance(ctx, d.ID, map[string]any{"seed": float64(1)}, epoch)
	require.NoError(t, err)

	assert.Equal(t, InstanceRunnable, inst.Status)
	assert.Equal(t, map[string]any{"seed": float64(1)}, inst.Blackboard)
	require.NotNil(t, inst.NextRunAt)
	assert.Equal(t, epoch, *inst.NextRunAt)
	assert.Nil(t, inst.LeaseOwner)
	assert.Nil(t, inst.LeaseUntil)
}

func TestClaimNext_LeaseSemantics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")
	inst, err := s.CreateInstance(ctx, d.ID, nil, epoch)
	require.NoError(t, err)

	// First worker claims and gets the lease stamped atomically.
	claimed, err := s.ClaimNext(ctx, "w1", 30*time.Second, epoch)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, inst.ID, claimed.ID)
	require.NotNil(t, claimed.LeaseOwner)
	assert.Equal(t, "w1", *claimed.LeaseOwner)
	require.NotNil(t, claimed.LeaseUntil)
	assert.Equal(t, epoch.Add(30*time.Second), *claimed.LeaseUntil)

	// A racing worker sees the live lease and skips.
	second, err := s.ClaimNext(ctx, "w2", 30*time.Second, epoch.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, second)

	// After expiry the instance is claimable again (stolen work).
	third, err := s.ClaimNext(ctx, "w2", 30*time.Second, epoch.Add(31*time.Second))
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "w2", *third.LeaseOwner)
}

func TestClaimNext_SkipsFutureSchedule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")
	_, err := s.CreateInstance(ctx, d.ID, nil, epoch.Add(time.Hour))
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx, "w1", 30*time.Second, epoch)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	claimed, err = s.ClaimNext(ctx, "w1", 30*time.Second, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, claimed)
}

func TestClaimNext_SkipsTerminalInstances(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")
	inst, err := s.CreateInstance(ctx, d.ID, nil, epoch)
	require.NoError(t, err)

	require.NoError(t, s.UpdateInstanceStatus(ctx, inst.ID, InstanceCompleted, nil))

	claimed, err := s.ClaimNext(ctx, "w1", 30*time.Second, epoch)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimNext_OrdersByNextRunAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")

	later, err := s.CreateInstance(ctx, d.ID, nil, epoch.Add(time.Minute))
	require.NoError(t, err)
	earlier, err := s.CreateInstance(ctx, d.ID, nil, epoch)
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx, "w1", 30*time.Second, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, earlier.ID, claimed.ID)
	assert.NotEqual(t, later.ID, claimed.ID)
}

func TestUpdateInstanceStatus_ClearsLease(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")
	inst, err := s.CreateInstance(ctx, d.ID, nil, epoch)
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, "w1", 30*time.Second, epoch)
	require.NoError(t, err)

	next := epoch.Add(time.Minute)
	require.NoError(t, s.UpdateInstanceStatus(ctx, inst.ID, InstanceRunnable, &next))

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LeaseOwner)
	assert.Nil(t, got.LeaseUntil)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, next, *got.NextRunAt)
}

func TestSteps_AttemptsIncrement(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")
	inst, err := s.CreateInstance(ctx, d.ID, nil, epoch)
	require.NoError(t, err)

	step, err := s.GetOrCreateStep(ctx, inst.ID, "s")
	require.NoError(t, err)
	assert.Equal(t, StepPending, step.Status)
	assert.Equal(t, 0, step.Attempts)

	// Re-creating is idempotent.
	again, err := s.GetOrCreateStep(ctx, inst.ID, "s")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Attempts)

	for want := 1; want <= 3; want++ {
		n, err := s.IncrementStepAttempts(ctx, inst.ID, "s")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestSteps_SuccessAndFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")
	inst, err := s.CreateInstance(ctx, d.ID, nil, epoch)
	require.NoError(t, err)

	_, err = s.GetOrCreateStep(ctx, inst.ID, "a")
	require.NoError(t, err)
	require.NoError(t, s.UpdateStepError(ctx, inst.ID, "a", "transient"))

	step, err := s.GetStep(ctx, inst.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, StepPending, step.Status)
	assert.Equal(t, "transient", step.LastError)

	require.NoError(t, s.UpdateStepSuccess(ctx, inst.ID, "a", map[string]any{"status": float64(200)}))
	step, err = s.GetStep(ctx, inst.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, StepSucceeded, step.Status)
	assert.Empty(t, step.LastError)
	assert.Equal(t, map[string]any{"status": float64(200)}, step.Output)

	_, err = s.GetOrCreateStep(ctx, inst.ID, "b")
	require.NoError(t, err)
	require.NoError(t, s.UpdateStepFailed(ctx, inst.ID, "b", "exhausted"))
	step, err = s.GetStep(ctx, inst.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, StepFailed, step.Status)
	assert.Equal(t, "exhausted", step.LastError)

	steps, err := s.StepsForInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestResetInstance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")
	inst, err := s.CreateInstance(ctx, d.ID, nil, epoch)
	require.NoError(t, err)

	_, err = s.GetOrCreateStep(ctx, inst.ID, "a")
	require.NoError(t, err)
	_, err = s.IncrementStepAttempts(ctx, inst.ID, "a")
	require.NoError(t, err)
	require.NoError(t, s.UpdateStepFailed(ctx, inst.ID, "a", "boom"))
	require.NoError(t, s.UpdateInstanceStatus(ctx, inst.ID, InstanceFailed, nil))

	resetAt := epoch.Add(time.Hour)
	require.NoError(t, s.ResetInstance(ctx, inst.ID, resetAt))

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceRunnable, got.Status)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, resetAt, *got.NextRunAt)
	assert.Nil(t, got.LeaseOwner)

	step, err := s.GetStep(ctx, inst.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, StepPending, step.Status)
	assert.Equal(t, 0, step.Attempts)
	assert.Empty(t, step.LastError)
}

func TestResetInstance_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.ResetInstance(context.Background(), "missing", epoch)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNextRunTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")

	next, err := s.NextRunTime(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = s.CreateInstance(ctx, d.ID, nil, epoch.Add(time.Minute))
	require.NoError(t, err)
	_, err = s.CreateInstance(ctx, d.ID, nil, epoch)
	require.NoError(t, err)

	next, err = s.NextRunTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, epoch, *next)
}

func TestDeleteInstance_CascadesSteps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := deployTestDefinition(t, s, "wf")
	inst, err := s.CreateInstance(ctx, d.ID, nil, epoch)
	require.NoError(t, err)
	_, err = s.GetOrCreateStep(ctx, inst.ID, "a")
	require.NoError(t, err)

	require.NoError(t, s.DeleteInstance(ctx, inst.ID))

	_, err = s.GetInstance(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM workflow_steps WHERE instance_id = ?`, inst.ID).Scan(&count))
	assert.Zero(t, count)
}

func TestKV_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.KVGet(ctx, "s", "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.KVSet(ctx, "s", "k", float64(42)))
	v, found, err := s.KVGet(ctx, "s", "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, float64(42), v)

	// Last writer wins.
	require.NoError(t, s.KVSet(ctx, "s", "k", map[string]any{"nested": true}))
	v, found, err = s.KVGet(ctx, "s", "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"nested": true}, v)

	// Stores are namespaced.
	_, found, err = s.KVGet(ctx, "other", "k")
	require.NoError(t, err)
	assert.False(t, found)
}
