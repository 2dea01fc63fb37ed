package def

import "strings"

// Paths are dotted strings optionally prefixed by "$" or "$.": both mean
// root. The dialect is deliberately small: no bracket syntax, no
// wildcards, no filters. Arrays are reached only through ForEach
// iteration variables.

// SplitPath normalizes a path and returns its segments. The root path
// ("$", "$." or "") yields no segments.
func SplitPath(path string) []string {
	p := strings.TrimPrefix(path, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

// Resolve walks path through bb and returns the value found, or
// Undefined if any segment traverses a missing key or a non-object.
// Resolution never errors.
func Resolve(bb map[string]any, path string) any {
	segs := SplitPath(path)
	var cur any = bb
	for _, seg := range segs {
		obj, ok := cur.(map[string]any)
		if !ok {
			return Undefined
		}
		cur, ok = obj[seg]
		if !ok {
			return Undefined
		}
	}
	return cur
}

// setPath writes value at path, creating intermediate objects as needed.
// Existing non-object intermediates are replaced by fresh objects.
// Setting the Undefined sentinel removes nothing and stores nothing:
// absence is how Undefined round-trips.
func setPath(bb map[string]any, path string, value any) {
	if IsUndefined(value) {
		return
	}
	segs := SplitPath(path)
	if len(segs) == 0 {
		return
	}
	cur := bb
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// deletePath removes the value at path. Missing intermediate segments
// are a silent no-op.
func deletePath(bb map[string]any, path string) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return
	}
	cur := bb
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, segs[len(segs)-1])
}

// mergePath shallow-merges obj into the object at path. A missing or
// non-object existing value is replaced by a copy of obj.
func mergePath(bb map[string]any, path string, obj map[string]any) {
	existing, ok := Resolve(bb, path).(map[string]any)
	if !ok {
		merged := make(map[string]any, len(obj))
		for k, v := range obj {
			merged[k] = v
		}
		setPath(bb, path, merged)
		return
	}
	for k, v := range obj {
		existing[k] = v
	}
}

// CloneValue deep-copies a blackboard value. Maps and slices are copied
// recursively; scalars (and Refs, which are immutable) pass through.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = CloneValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = CloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// CloneBlackboard deep-copies a blackboard document.
func CloneBlackboard(bb map[string]any) map[string]any {
	if bb == nil {
		return map[string]any{}
	}
	return CloneValue(bb).(map[string]any)
}
