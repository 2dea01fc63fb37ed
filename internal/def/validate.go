package def

import (
	"fmt"
)

// ValidationError describes one structural defect in a definition tree.
type ValidationError struct {
	NodeID  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// ValidateTree checks the structural invariants of a definition tree:
// non-empty unique ids, known types, children present iff composite, and
// per-type required props. Props that are references satisfy presence
// checks; value constraints apply only to literals.
//
// Returns all defects found, not just the first.
func ValidateTree(root *Node) []error {
	if root == nil {
		return []error{&ValidationError{Message: "definition has no root node"}}
	}
	var errs []error
	seen := make(map[string]bool)
	root.Walk(func(n *Node) bool {
		if n.ID == "" {
			errs = append(errs, &ValidationError{Message: fmt.Sprintf("node of type %q has empty id", n.Type)})
		} else if seen[n.ID] {
			errs = append(errs, &ValidationError{NodeID: n.ID, Message: "duplicate node id"})
		}
		seen[n.ID] = true

		if !n.Type.Known() {
			errs = append(errs, &ValidationError{NodeID: n.ID, Message: fmt.Sprintf("unknown node type %q", n.Type)})
			return true
		}
		if n.Type.IsComposite() && len(n.Children) == 0 {
			errs = append(errs, &ValidationError{NodeID: n.ID, Message: fmt.Sprintf("%s must have children", n.Type)})
		}
		if !n.Type.IsComposite() && len(n.Children) > 0 {
			errs = append(errs, &ValidationError{NodeID: n.ID, Message: fmt.Sprintf("%s must not have children", n.Type)})
		}
		errs = append(errs, validateProps(n)...)
		return true
	})
	return errs
}

func validateProps(n *Node) []error {
	var errs []error
	require := func(keys ...string) {
		for _, key := range keys {
			if IsUndefined(n.Prop(key)) {
				errs = append(errs, &ValidationError{NodeID: n.ID, Message: fmt.Sprintf("%s requires prop %q", n.Type, key)})
			}
		}
	}
	switch n.Type {
	case TypeForEach:
		require("items")
	case TypeHitEndpoint:
		require("url", "assignTo")
	case TypeSleep:
		require("seconds")
		if secs, ok := n.Prop("seconds").(float64); ok && secs < 0 {
			errs = append(errs, &ValidationError{NodeID: n.ID, Message: "seconds must be >= 0"})
		}
	case TypeSendEmail:
		require("to", "subject", "body")
	case TypeKVGet:
		require("store", "key", "assignTo")
	case TypeKVSet:
		require("store", "key", "value")
	case TypeFailFor:
		require("times")
		if times, ok := n.Prop("times").(float64); ok && (times < 0 || times != float64(int64(times))) {
			errs = append(errs, &ValidationError{NodeID: n.ID, Message: "times must be a non-negative integer"})
		}
	}
	return errs
}
