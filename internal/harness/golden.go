package harness

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strand/internal/store"
)

// stepSnapshot is one row of a step-table snapshot. Timestamps and
// outputs are excluded; the snapshot captures the durable traversal
// outcome, which is what golden files pin down.
type stepSnapshot struct {
	NodeID   string           `json:"node_id"`
	Status   store.StepStatus `json:"status"`
	Attempts int              `json:"attempts"`
}

type runSnapshot struct {
	InstanceStatus store.InstanceStatus `json:"instance_status"`
	Steps          []stepSnapshot       `json:"steps"`
}

// AssertGolden compares the final instance status and step table
// against a golden file in testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func (r *Run) AssertGolden(t *testing.T, name string) {
	t.Helper()

	inst, steps := r.Final()
	snap := runSnapshot{InstanceStatus: inst.Status}
	for _, s := range steps {
		snap.Steps = append(snap.Steps, stepSnapshot{
			NodeID:   s.NodeID,
			Status:   s.Status,
			Attempts: s.Attempts,
		})
	}
	sort.Slice(snap.Steps, func(i, j int) bool {
		return snap.Steps[i].NodeID < snap.Steps[j].NodeID
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
