// Package def holds the workflow definition model: the tagged node tree
// that authors deploy, the reference values that point into an instance
// blackboard, and the patch algebra that mutates it.
//
// A definition is immutable once registered. All per-iteration and
// per-instance state lives outside the tree, in the step table and the
// blackboard; nothing in this package touches the store.
//
// Blackboards are plain map[string]any documents (the JSON object model).
// Absent values are represented by the Undefined sentinel rather than nil,
// because nil is a legitimate JSON null that an author may have written.
package def
