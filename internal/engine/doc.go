// Package engine is the durable execution substrate: the interpreter
// that finds the next leaf to run, the executors for each leaf node
// type, and the worker loop that leases instances from the store and
// commits every transition.
//
// Concurrency model: any number of workers may run against one store.
// Per-instance serialization comes from the lease - the claim query
// grants at most one live lease per instance, and all mutations for an
// instance happen under that lease. Within a worker there is no
// concurrency: one leaf executes at a time.
//
// The interpreter (FindNext, IsComplete) is purely functional over the
// definition tree, the step map, and the blackboard. It never touches
// the store and never resolves references inside leaf props; reference
// resolution happens in the executor with the scoped blackboard the
// interpreter handed it.
package engine
