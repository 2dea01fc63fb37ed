package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strand/internal/def"
	"github.com/roach88/strand/internal/store"
)

func succeeded(ids ...string) map[string]store.Step {
	steps := make(map[string]store.Step, len(ids))
	for _, id := range ids {
		steps[id] = store.Step{NodeID: id, Status: store.StepSucceeded, Attempts: 1}
	}
	return steps
}

func seqTree() *def.Node {
	return &def.Node{
		Type: def.TypeSequence,
		ID:   "root",
		Children: []*def.Node{
			{Type: def.TypeFailFor, ID: "a", Props: map[string]any{"times": float64(0)}},
			{Type: def.TypeFailFor, ID: "b", Props: map[string]any{"times": float64(0)}},
			{Type: def.TypeFailFor, ID: "c", Props: map[string]any{"times": float64(0)}},
		},
	}
}

func TestFindNext_SequenceOrder(t *testing.T) {
	tree := seqTree()
	bb := map[string]any{}

	sel := FindNext(tree, nil, bb, "")
	require.NotNil(t, sel)
	assert.Equal(t, "a", sel.EffectiveID)

	sel = FindNext(tree, succeeded("a"), bb, "")
	require.NotNil(t, sel)
	assert.Equal(t, "b", sel.EffectiveID)

	sel = FindNext(tree, succeeded("a", "b", "c"), bb, "")
	assert.Nil(t, sel)
	assert.True(t, IsComplete(tree, succeeded("a", "b", "c"), bb, ""))
}

func TestFindNext_PendingStepIsRediscovered(t *testing.T) {
	tree := seqTree()
	steps := map[string]store.Step{
		"a": {NodeID: "a", Status: store.StepPending, Attempts: 2, LastError: "boom"},
	}

	sel := FindNext(tree, steps, map[string]any{}, "")
	require.NotNil(t, sel)
	assert.Equal(t, "a", sel.EffectiveID)
}

func TestFindNext_Idempotent(t *testing.T) {
	tree := seqTree()
	steps := succeeded("a")
	bb := map[string]any{}

	first := FindNext(tree, steps, bb, "")
	second := FindNext(tree, steps, bb, "")
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.EffectiveID, second.EffectiveID)
}

func loopTree() *def.Node {
	return &def.Node{
		Type: def.TypeSequence,
		ID:   "root",
		Children: []*def.Node{
			{
				Type:  def.TypeForEach,
				ID:    "loop",
				Props: map[string]any{"items": def.NewRef("$.items"), "itemVar": "elem"},
				Children: []*def.Node{
					{Type: def.TypeSendEmail, ID: "mail", Props: map[string]any{
						"to": "u@x", "subject": def.NewRef("$.__item"), "body": "",
					}},
				},
			},
		},
	}
}

func TestFindNext_ForEachScoping(t *testing.T) {
	tree := loopTree()
	bb := map[string]any{"items": []any{"first", "second"}}

	sel := FindNext(tree, nil, bb, "")
	require.NotNil(t, sel)
	assert.Equal(t, "loop[0].mail", sel.EffectiveID)
	assert.Equal(t, "first", sel.Blackboard[ItemKey])
	assert.Equal(t, 0, sel.Blackboard[IndexKey])
	assert.Equal(t, "first", sel.Blackboard["elem"])

	sel = FindNext(tree, succeeded("loop[0].mail"), bb, "")
	require.NotNil(t, sel)
	assert.Equal(t, "loop[1].mail", sel.EffectiveID)
	assert.Equal(t, "second", sel.Blackboard[ItemKey])
	assert.Equal(t, 1, sel.Blackboard[IndexKey])

	done := succeeded("loop[0].mail", "loop[1].mail")
	assert.Nil(t, FindNext(tree, done, bb, ""))
	assert.True(t, IsComplete(tree, done, bb, ""))
}

func TestFindNext_ScopedBlackboardDoesNotLeakToParent(t *testing.T) {
	tree := loopTree()
	bb := map[string]any{"items": []any{"only"}}

	sel := FindNext(tree, nil, bb, "")
	require.NotNil(t, sel)
	require.Contains(t, sel.Blackboard, ItemKey)
	assert.NotContains(t, bb, ItemKey)
	assert.NotContains(t, bb, IndexKey)
}

func TestFindNext_NestedLoops(t *testing.T) {
	tree := &def.Node{
		Type: def.TypeForEach,
		ID:   "outer",
		Props: map[string]any{
			"items": def.NewRef("$.rows"),
		},
		Children: []*def.Node{
			{
				Type:  def.TypeForEach,
				ID:    "inner",
				Props: map[string]any{"items": def.NewRef("$.__item")},
				Children: []*def.Node{
					{Type: def.TypeFailFor, ID: "leaf", Props: map[string]any{"times": float64(0)}},
				},
			},
		},
	}
	bb := map[string]any{"rows": []any{
		[]any{"a"},
		[]any{"b", "c"},
	}}

	sel := FindNext(tree, nil, bb, "")
	require.NotNil(t, sel)
	assert.Equal(t, "outer[0].inner[0].leaf", sel.EffectiveID)

	steps := succeeded("outer[0].inner[0].leaf", "outer[1].inner[0].leaf")
	sel = FindNext(tree, steps, bb, "")
	require.NotNil(t, sel)
	assert.Equal(t, "outer[1].inner[1].leaf", sel.EffectiveID)
}

func TestForEach_ZeroElementsIsComplete(t *testing.T) {
	tree := loopTree()
	bb := map[string]any{"items": []any{}}

	assert.Nil(t, FindNext(tree, nil, bb, ""))
	assert.True(t, IsComplete(tree, nil, bb, ""))
}

func TestForEach_NonArrayItemsIsComplete(t *testing.T) {
	tree := loopTree()

	for _, bb := range []map[string]any{
		{"items": "not an array"},
		{"items": map[string]any{"k": 1}},
		{}, // unresolved
	} {
		assert.Nil(t, FindNext(tree, nil, bb, ""))
		assert.True(t, IsComplete(tree, nil, bb, ""))
	}
}

func TestEffectiveID(t *testing.T) {
	assert.Equal(t, "a", EffectiveID("", "a"))
	assert.Equal(t, "loop[2].a", EffectiveID(IterPrefix("loop", 2), "a"))
	assert.Equal(t, "o[0].i[1].a", EffectiveID(IterPrefix(EffectiveID(IterPrefix("o", 0), "i"), 1), "a"))
}
