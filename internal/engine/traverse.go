package engine

import (
	"log/slog"

	"github.com/roach88/strand/internal/def"
	"github.com/roach88/strand/internal/store"
)

// Selection is the interpreter's answer: the next leaf to execute, the
// effective id its step row is keyed by, and the (possibly loop-scoped)
// blackboard the executor must see.
type Selection struct {
	Node        *def.Node
	EffectiveID string
	Blackboard  map[string]any
}

// FindNext deterministically identifies the next leaf to run under node,
// or nil when nothing remains. Traversal order is the definition's
// declaration order: sequences left to right, loops element by element.
//
// FindNext is idempotent with respect to the step map: without
// intervening mutations it always selects the same effective id.
func FindNext(node *def.Node, steps map[string]store.Step, bb map[string]any, prefix string) *Selection {
	switch node.Type {
	case def.TypeSequence:
		for _, child := range node.Children {
			if sel := FindNext(child, steps, bb, prefix); sel != nil {
				return sel
			}
		}
		return nil

	case def.TypeForEach:
		effID := EffectiveID(prefix, node.ID)
		items, ok := resolveItems(node, bb)
		if !ok {
			// A loop whose items never materialized contributed no
			// steps; it is trivially complete. Logged, not fatal.
			slog.Warn("foreach items did not resolve to an array, skipping loop",
				"node_id", node.ID,
				"effective_id", effID,
			)
			return nil
		}
		itemVar := node.StringProp("itemVar")
		indexVar := node.StringProp("indexVar")
		for i, item := range items {
			iterPrefix := IterPrefix(effID, i)
			scoped := ScopedBlackboard(bb, item, i, itemVar, indexVar)
			if iterationComplete(node, steps, scoped, iterPrefix) {
				continue
			}
			for _, child := range node.Children {
				if sel := FindNext(child, steps, scoped, iterPrefix); sel != nil {
					return sel
				}
			}
			// iterationComplete and FindNext agree on every subtree, so
			// an incomplete iteration returns a leaf above; falling
			// through to the next element keeps the loop from stalling.
		}
		return nil

	default:
		effID := EffectiveID(prefix, node.ID)
		if st, ok := steps[effID]; ok && st.Status == store.StepSucceeded {
			return nil
		}
		return &Selection{Node: node, EffectiveID: effID, Blackboard: bb}
	}
}

// IsComplete answers whether every leaf under node has succeeded. A
// ForEach over zero elements is complete, as is one whose items prop
// does not resolve to an array.
func IsComplete(node *def.Node, steps map[string]store.Step, bb map[string]any, prefix string) bool {
	switch node.Type {
	case def.TypeSequence:
		for _, child := range node.Children {
			if !IsComplete(child, steps, bb, prefix) {
				return false
			}
		}
		return true

	case def.TypeForEach:
		effID := EffectiveID(prefix, node.ID)
		items, ok := resolveItems(node, bb)
		if !ok {
			return true
		}
		itemVar := node.StringProp("itemVar")
		indexVar := node.StringProp("indexVar")
		for i, item := range items {
			scoped := ScopedBlackboard(bb, item, i, itemVar, indexVar)
			if !iterationComplete(node, steps, scoped, IterPrefix(effID, i)) {
				return false
			}
		}
		return true

	default:
		st, ok := steps[EffectiveID(prefix, node.ID)]
		return ok && st.Status == store.StepSucceeded
	}
}

// iterationComplete reports whether every descendant leaf under one loop
// iteration has succeeded.
func iterationComplete(loop *def.Node, steps map[string]store.Step, scoped map[string]any, iterPrefix string) bool {
	for _, child := range loop.Children {
		if !IsComplete(child, steps, scoped, iterPrefix) {
			return false
		}
	}
	return true
}
