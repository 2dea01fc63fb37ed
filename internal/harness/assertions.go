package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strand/internal/def"
	"github.com/roach88/strand/internal/store"
)

// AssertInstanceStatus asserts the final instance status.
func (r *Run) AssertInstanceStatus(t *testing.T, want store.InstanceStatus) {
	t.Helper()
	inst, _ := r.Final()
	assert.Equal(t, want, inst.Status)
}

// AssertStepSucceeded asserts a step row exists, succeeded, with the
// expected attempt count.
func (r *Run) AssertStepSucceeded(t *testing.T, nodeID string, wantAttempts int) {
	t.Helper()
	_, steps := r.Final()
	step, ok := steps[nodeID]
	require.True(t, ok, "step %q does not exist", nodeID)
	assert.Equal(t, store.StepSucceeded, step.Status, "step %q status", nodeID)
	assert.Equal(t, wantAttempts, step.Attempts, "step %q attempts", nodeID)
}

// AssertStepFailed asserts a step row exists, failed terminally, with
// the expected attempt count and a non-empty last error.
func (r *Run) AssertStepFailed(t *testing.T, nodeID string, wantAttempts int) {
	t.Helper()
	_, steps := r.Final()
	step, ok := steps[nodeID]
	require.True(t, ok, "step %q does not exist", nodeID)
	assert.Equal(t, store.StepFailed, step.Status, "step %q status", nodeID)
	assert.Equal(t, wantAttempts, step.Attempts, "step %q attempts", nodeID)
	assert.NotEmpty(t, step.LastError, "step %q last_error", nodeID)
}

// AssertStepCount asserts the total number of persisted step rows.
func (r *Run) AssertStepCount(t *testing.T, want int) {
	t.Helper()
	_, steps := r.Final()
	assert.Len(t, steps, want)
}

// AssertBlackboard asserts the value at a blackboard path. Numeric
// comparisons tolerate the float64 shape JSON round-trips produce.
func (r *Run) AssertBlackboard(t *testing.T, path string, want any) {
	t.Helper()
	inst, _ := r.Final()
	got := def.Resolve(inst.Blackboard, path)
	require.False(t, def.IsUndefined(got), "blackboard path %q is undefined", path)
	assert.EqualValues(t, want, got, "blackboard path %q", path)
}

// AssertBlackboardDefined asserts a blackboard path resolves to some
// value.
func (r *Run) AssertBlackboardDefined(t *testing.T, path string) {
	t.Helper()
	inst, _ := r.Final()
	assert.False(t, def.IsUndefined(def.Resolve(inst.Blackboard, path)),
		"blackboard path %q is undefined", path)
}
