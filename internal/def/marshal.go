package def

import (
	"encoding/json"
	"fmt"
)

// Wire format for a node: { "type", "id", "props"?, "children"? }.
// References serialize as { "__ref": true, "path": "$.a.b.c" }.
// This shape is normative: the ingester emits it, the worker accepts it.

const refTag = "__ref"

type nodeJSON struct {
	Type     NodeType       `json:"type"`
	ID       string         `json:"id"`
	Props    map[string]any `json:"props,omitempty"`
	Children []*Node        `json:"children,omitempty"`
}

// MarshalJSON implements json.Marshaler, encoding Ref markers into their
// tagged wire form.
func (n *Node) MarshalJSON() ([]byte, error) {
	var props map[string]any
	if n.Props != nil {
		props = encodeRefs(n.Props).(map[string]any)
	}
	return json.Marshal(nodeJSON{
		Type:     n.Type,
		ID:       n.ID,
		Props:    props,
		Children: n.Children,
	})
}

// UnmarshalJSON implements json.Unmarshaler, decoding tagged references
// back into Ref markers.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.Type = raw.Type
	n.ID = raw.ID
	n.Children = raw.Children
	if raw.Props != nil {
		n.Props = decodeRefs(raw.Props).(map[string]any)
	} else {
		n.Props = nil
	}
	return nil
}

// ParseTree decodes a definition tree from its wire form.
func ParseTree(data []byte) (*Node, error) {
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	return &root, nil
}

// MarshalTree encodes a definition tree to its wire form.
func MarshalTree(root *Node) ([]byte, error) {
	data, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}
	return data, nil
}

// encodeRefs rewrites Ref markers into tagged objects, recursively.
func encodeRefs(v any) any {
	switch val := v.(type) {
	case Ref:
		return map[string]any{refTag: true, "path": val.Path}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = encodeRefs(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = encodeRefs(elem)
		}
		return out
	default:
		return v
	}
}

// decodeRefs rewrites tagged objects back into Ref markers, recursively.
// An object is a reference iff its __ref key is boolean true and its
// path key is a string; anything else is ordinary data.
func decodeRefs(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if tag, ok := val[refTag].(bool); ok && tag {
			if path, ok := val["path"].(string); ok {
				return Ref{Path: path}
			}
		}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = decodeRefs(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = decodeRefs(elem)
		}
		return out
	default:
		return v
	}
}
