package engine

import (
	"fmt"
	"time"

	"github.com/roach88/strand/internal/def"
)

// ResultKind discriminates the step result protocol.
type ResultKind string

const (
	// ResultSuccess marks the step succeeded; patches apply to the
	// instance blackboard.
	ResultSuccess ResultKind = "success"

	// ResultWait marks the step succeeded as a scheduling commitment:
	// the instance becomes runnable again at NextRunAt. The sleep is not
	// re-executed on resumption - a fresh leaf is chosen.
	ResultWait ResultKind = "wait"

	// ResultFail is a non-terminal failure; the scheduler applies the
	// retry policy.
	ResultFail ResultKind = "fail"
)

// StepResult is the outcome an executor returns. Executors return
// failures as values, never panics surfacing to the worker loop.
type StepResult struct {
	Kind    ResultKind
	Patches []def.Patch
	Output  any

	// NextRunAt is the resumption deadline for ResultWait.
	NextRunAt time.Time

	// Err and RetryAt describe a ResultFail. RetryAt is advisory; the
	// scheduler takes the max of it and its own backoff.
	Err     string
	RetryAt time.Time
}

// Success builds a success result carrying the given patches.
func Success(patches ...def.Patch) StepResult {
	return StepResult{Kind: ResultSuccess, Patches: patches}
}

// SuccessOutput builds a success result with an output payload recorded
// on the step row.
func SuccessOutput(output any, patches ...def.Patch) StepResult {
	return StepResult{Kind: ResultSuccess, Patches: patches, Output: output}
}

// Wait builds a wait result resuming at the given time.
func Wait(at time.Time) StepResult {
	return StepResult{Kind: ResultWait, NextRunAt: at}
}

// Failf builds a failure result with a formatted error.
func Failf(format string, args ...any) StepResult {
	return StepResult{Kind: ResultFail, Err: fmt.Sprintf(format, args...)}
}
