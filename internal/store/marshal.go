package store

import (
	"encoding/json"
	"fmt"
)

// marshalBlackboard converts a blackboard document to JSON TEXT for
// storage. A nil document stores as the empty object.
func marshalBlackboard(bb map[string]any) (string, error) {
	if bb == nil {
		return "{}", nil
	}
	data, err := json.Marshal(bb)
	if err != nil {
		return "", fmt.Errorf("marshal blackboard: %w", err)
	}
	return string(data), nil
}

// unmarshalBlackboard parses JSON TEXT back to a blackboard document.
func unmarshalBlackboard(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	var bb map[string]any
	if err := json.Unmarshal([]byte(data), &bb); err != nil {
		return nil, fmt.Errorf("unmarshal blackboard: %w", err)
	}
	return bb, nil
}

// marshalOutput converts an optional step output payload to nullable
// JSON TEXT.
func marshalOutput(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	return string(data), nil
}

// unmarshalOutput parses a nullable output column.
func unmarshalOutput(data *string) (any, error) {
	if data == nil || *data == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(*data), &v); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	return v, nil
}
