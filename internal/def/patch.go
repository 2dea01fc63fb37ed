package def

import "fmt"

// PatchOp identifies a blackboard mutation kind.
type PatchOp string

const (
	OpSet   PatchOp = "set"
	OpMerge PatchOp = "merge"
	OpDel   PatchOp = "del"
)

// Patch is one blackboard mutation. Executors return patches from a
// successful step; the worker applies them to the instance blackboard in
// the order returned.
type Patch struct {
	Op    PatchOp
	Path  string
	Value any
}

// SetPatch writes value at path.
func SetPatch(path string, value any) Patch {
	return Patch{Op: OpSet, Path: path, Value: value}
}

// MergePatch shallow-merges an object into the object at path.
func MergePatch(path string, obj map[string]any) Patch {
	return Patch{Op: OpMerge, Path: path, Value: obj}
}

// DelPatch removes the value at path.
func DelPatch(path string) Patch {
	return Patch{Op: OpDel, Path: path}
}

// ApplyPatches applies patches to bb in order and returns the resulting
// document. bb is never mutated; the result is a deep copy. Application
// is deterministic: the result depends only on bb and patches.
func ApplyPatches(bb map[string]any, patches []Patch) (map[string]any, error) {
	out := CloneBlackboard(bb)
	for i, p := range patches {
		switch p.Op {
		case OpSet:
			setPath(out, p.Path, CloneValue(p.Value))
		case OpMerge:
			obj, ok := p.Value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("patch %d: merge value at %q is %T, want object", i, p.Path, p.Value)
			}
			mergePath(out, p.Path, CloneValue(obj).(map[string]any))
		case OpDel:
			deletePath(out, p.Path)
		default:
			return nil, fmt.Errorf("patch %d: unknown op %q", i, p.Op)
		}
	}
	return out, nil
}
