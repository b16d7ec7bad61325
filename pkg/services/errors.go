// Package services implements the workflow, execution and analytics operations
// on top of persistence, mapping every failure onto a small error taxonomy.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/steps"
	"github.com/dukex/stepflow/pkg/storage"
	"github.com/dukex/stepflow/pkg/templates"
)

// Kind classifies a service error for callers such as the HTTP layer.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindValidation    Kind = "validation"
	KindStateConflict Kind = "state_conflict"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

var (
	ErrWorkflowNotFound  = persistence.ErrWorkflowNotFound
	ErrExecutionNotFound = persistence.ErrExecutionNotFound
	ErrVersionConflict   = persistence.ErrVersionConflict
	ErrIllegalTransition = models.ErrIllegalTransition

	ErrContactNotFound  = errors.New("contact not found")
	ErrTemplateNotFound = errors.New("template not found")

	// Validation errors.
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrInvalidDays         = errors.New("days must be between 1 and 365")
	ErrStepNotInSnapshot   = errors.New("step is not part of the execution")
	ErrUploadsNotSupported = errors.New("step does not accept uploads")

	// State conflicts.
	ErrWorkflowNotActive   = errors.New("workflow is not active")
	ErrWorkflowDeleted     = errors.New("workflow is already deleted")
	ErrActivePortals       = errors.New("workflow is referenced by active portals")
	ErrInvalidStatusChange = errors.New("invalid workflow status change")
	ErrDuplicateSubmission = errors.New("contact already submitted this workflow")
	ErrExecutionClosed     = errors.New("execution is closed")

	ErrUploadsUnavailable = errors.New("file uploads are not configured")
)

type classification struct {
	err  error
	kind Kind
	code string
}

// classifications is checked in order; the first sentinel matched by errors.Is wins.
var classifications = []classification{
	{ErrWorkflowNotFound, KindNotFound, "WORKFLOW_NOT_FOUND"},
	{ErrExecutionNotFound, KindNotFound, "EXECUTION_NOT_FOUND"},
	{steps.ErrStepNotFound, KindNotFound, "STEP_NOT_FOUND"},
	{ErrContactNotFound, KindNotFound, "CONTACT_NOT_FOUND"},
	{ErrTemplateNotFound, KindNotFound, "TEMPLATE_NOT_FOUND"},

	{steps.ErrInvalidAction, KindValidation, "INVALID_ACTION"},
	{steps.ErrMissingField, KindValidation, "MISSING_FIELD"},
	{steps.ErrDuplicatePosition, KindValidation, "DUPLICATE_POSITION"},
	{steps.ErrPositionOutOfRange, KindValidation, "POSITION_OUT_OF_RANGE"},
	{steps.ErrDuplicateStepID, KindValidation, "DUPLICATE_STEP_ID"},
	{steps.ErrInvalidStepConfig, KindValidation, "INVALID_STEP_CONFIG"},
	{models.ErrInvalidTrigger, KindValidation, "INVALID_TRIGGER"},
	{persistence.ErrInvalidListOptions, KindValidation, "INVALID_LIST_OPTIONS"},
	{storage.ErrInvalidFileName, KindValidation, "INVALID_FILE_NAME"},
	{templates.ErrInvalidTemplate, KindValidation, "INVALID_TEMPLATE"},
	{ErrInvalidRequest, KindValidation, "INVALID_REQUEST"},
	{ErrInvalidStatus, KindValidation, "INVALID_STATUS"},
	{ErrInvalidDays, KindValidation, "INVALID_DAYS"},
	{ErrStepNotInSnapshot, KindValidation, "STEP_NOT_IN_EXECUTION"},
	{ErrUploadsNotSupported, KindValidation, "UPLOADS_NOT_SUPPORTED"},

	{ErrWorkflowNotActive, KindStateConflict, "WORKFLOW_NOT_ACTIVE"},
	{ErrWorkflowDeleted, KindStateConflict, "WORKFLOW_DELETED"},
	{ErrActivePortals, KindStateConflict, "ACTIVE_PORTALS"},
	{ErrInvalidStatusChange, KindStateConflict, "INVALID_STATUS_CHANGE"},
	{ErrIllegalTransition, KindStateConflict, "ILLEGAL_TRANSITION"},
	{ErrDuplicateSubmission, KindStateConflict, "DUPLICATE_SUBMISSION"},
	{ErrExecutionClosed, KindStateConflict, "EXECUTION_CLOSED"},

	{ErrVersionConflict, KindConflict, "VERSION_CONFLICT"},
}

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Kind    Kind
	Code    string // Error code for API responses
	Message string // Human-readable message, names the offending identifier
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func classify(err error) (Kind, string) {
	for _, c := range classifications {
		if errors.Is(err, c.err) {
			return c.kind, c.code
		}
	}

	return KindInternal, "INTERNAL_ERROR"
}

// newError builds a ServiceError for a known sentinel with a formatted message.
func newError(op string, sentinel error, format string, args ...any) *ServiceError {
	kind, code := classify(sentinel)

	return &ServiceError{
		Op:      op,
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
}

// wrap converts a lower-layer error into a ServiceError. Errors that are already
// ServiceErrors pass through untouched. Internal errors keep their cause but
// expose a generic message.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}

	kind, code := classify(err)

	message := err.Error()
	if kind == KindInternal {
		message = "failed to " + op
	}

	return &ServiceError{Op: op, Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf returns the taxonomy kind of err. Unknown errors are internal.
func KindOf(err error) Kind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind
	}

	kind, _ := classify(err)

	return kind
}

// CodeOf returns the API error code of err.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code
	}

	_, code := classify(err)

	return code
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsValidationError(err error) bool {
	return KindOf(err) == KindValidation
}

func IsStateConflict(err error) bool {
	return KindOf(err) == KindStateConflict
}

func IsConflictError(err error) bool {
	return KindOf(err) == KindConflict
}
