// Package store is the persistence adapter for the workflow engine.
//
// It owns the relational schema (workflow_definitions, workflow_instances,
// workflow_steps, workflow_kv) and the specific atomic operations the
// scheduler depends on. Every exported mutation is a single transaction;
// the worker's crash-safety argument rests on that.
//
// SQLite is the backing store. The claim operation emulates
// select-for-update-skip-locked with a guarded UPDATE inside a
// transaction, which under SQLite's single-writer lock yields the same
// at-most-one-lease-per-instance guarantee.
package store
