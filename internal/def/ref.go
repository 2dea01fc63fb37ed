package def

// Ref is a tagged marker for a blackboard reference. It carries a dotted
// path rooted at "$" and is resolved against the scoped blackboard just
// before an executor runs.
//
// Refs are a dedicated type, not strings, so that the patch algebra and
// prop handling stay total: a string prop is always a literal, a Ref prop
// is always a reference, and there is no sniffing.
type Ref struct {
	Path string
}

// NewRef creates a reference to the given blackboard path.
func NewRef(path string) Ref {
	return Ref{Path: path}
}

// undefinedType is the sentinel for values absent from a blackboard.
// Distinct from nil: nil is JSON null, which authors may store on purpose.
type undefinedType struct{}

// Undefined is the absent-value sentinel. Path resolution returns it for
// any traversal through a missing or non-object segment.
var Undefined = undefinedType{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedType)
	return ok
}

// ResolveRefs returns a copy of v with every Ref (at any depth) replaced
// by its value under bb. Unresolvable references become Undefined.
// Maps and slices are copied; scalars pass through unchanged.
func ResolveRefs(v any, bb map[string]any) any {
	switch val := v.(type) {
	case Ref:
		return Resolve(bb, val.Path)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ResolveRefs(elem, bb)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ResolveRefs(elem, bb)
		}
		return out
	default:
		return v
	}
}

// ResolveProps resolves every Ref inside a node's props against bb.
// The node's own props map is never mutated.
func ResolveProps(props map[string]any, bb map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	resolved := ResolveRefs(props, bb)
	return resolved.(map[string]any)
}
