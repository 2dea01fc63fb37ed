package engine

import (
	"errors"
	"fmt"
)

// RunError is an engine-level failure attached to a specific instance.
// Distinct from step failures, which flow through StepResult and the
// retry policy: a RunError marks the instance failed immediately.
type RunError struct {
	Code       RunErrorCode
	Message    string
	InstanceID string
}

// RunErrorCode categorizes engine-level failures.
type RunErrorCode string

const (
	// ErrCodeMissingDefinition means a claimed instance references a
	// definition row that no longer exists.
	ErrCodeMissingDefinition RunErrorCode = "MISSING_DEFINITION"

	// ErrCodeBadDefinition means the stored definition JSON failed to
	// parse, so the instance cannot make progress.
	ErrCodeBadDefinition RunErrorCode = "BAD_DEFINITION"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s (instance=%s)", e.Code, e.Message, e.InstanceID)
}

// IsMissingDefinition reports whether err is a missing-definition
// failure. Uses errors.As to handle wrapped errors.
func IsMissingDefinition(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMissingDefinition
	}
	return false
}
