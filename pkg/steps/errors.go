package steps

import (
	"errors"
	"fmt"
)

var (
	// ErrStepNotFound is returned when an action or instruction names an unknown step.
	ErrStepNotFound = errors.New("step not found")

	// ErrDuplicatePosition is returned when two reorder instructions target the same position.
	ErrDuplicatePosition = errors.New("duplicate position")

	// ErrPositionOutOfRange is returned when a requested position is outside 1..N.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidAction is returned for malformed actions.
	ErrInvalidAction = errors.New("invalid step action")

	// ErrMissingField is returned when a create action lacks a required field.
	ErrMissingField = errors.New("missing required field")

	// ErrDuplicateStepID is returned when a create action reuses a live or retired step id.
	ErrDuplicateStepID = errors.New("duplicate step id")

	// ErrInvalidStepConfig is returned when a step configuration fails schema validation.
	ErrInvalidStepConfig = errors.New("invalid step configuration")
)

// StepError wraps a step error with the offending action or instruction.
type StepError struct {
	Op       string // "apply" or "reorder"
	Index    int    // index of the action/instruction in the request
	StepID   string
	Position int
	Message  string
	Err      error
}

func (e *StepError) Error() string {
	target := "step " + e.StepID
	if e.StepID == "" {
		target = "new step"
	}

	msg := fmt.Sprintf("%s[%d] %s: %v", e.Op, e.Index, target, e.Err)
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}

	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return errors.Is(e.Err, target)
}
