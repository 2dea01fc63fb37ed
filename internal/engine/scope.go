package engine

import (
	"fmt"

	"github.com/roach88/strand/internal/def"
)

// Reserved blackboard keys bound inside an active loop iteration. They
// exist only in the derived blackboard handed to an executor; patches
// apply to the un-scoped parent document, so they are never persisted.
const (
	ItemKey  = "__item"
	IndexKey = "__index"
)

// EffectiveID joins a traversal prefix with a node id. The persisted
// step id for a node inside a ForEach is "<loop_id>[<index>].<node_id>",
// nested for loops within loops. This is what gives per-iteration
// durability without cloning the definition tree.
func EffectiveID(prefix, nodeID string) string {
	if prefix == "" {
		return nodeID
	}
	return prefix + "." + nodeID
}

// IterPrefix derives the traversal prefix for iteration index of a loop.
func IterPrefix(loopEffectiveID string, index int) string {
	return fmt.Sprintf("%s[%d]", loopEffectiveID, index)
}

// ScopedBlackboard derives the per-iteration blackboard: the parent
// document plus the iteration bindings. The parent is not mutated; the
// copy is shallow, which is safe because executors never write through
// the blackboard directly - they return patches.
func ScopedBlackboard(bb map[string]any, item any, index int, itemVar, indexVar string) map[string]any {
	scoped := make(map[string]any, len(bb)+4)
	for k, v := range bb {
		scoped[k] = v
	}
	scoped[ItemKey] = item
	scoped[IndexKey] = index
	if itemVar != "" {
		scoped[itemVar] = item
	}
	if indexVar != "" {
		scoped[indexVar] = index
	}
	return scoped
}

// resolveItems resolves a ForEach node's items prop to an array at the
// moment of descent. The prop may be a Ref or a bare path string. The
// second return is false when the prop does not resolve to an array.
func resolveItems(node *def.Node, bb map[string]any) ([]any, bool) {
	var resolved any
	switch v := node.Prop("items").(type) {
	case def.Ref:
		resolved = def.Resolve(bb, v.Path)
	case string:
		resolved = def.Resolve(bb, v)
	case []any:
		resolved = v
	default:
		return nil, false
	}
	items, ok := resolved.([]any)
	return items, ok
}
