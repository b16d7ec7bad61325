package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/steps"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		code string
	}{
		{"workflow not found", ErrWorkflowNotFound, KindNotFound, "WORKFLOW_NOT_FOUND"},
		{"wrapped step not found", fmt.Errorf("apply: %w", steps.ErrStepNotFound), KindNotFound, "STEP_NOT_FOUND"},
		{"duplicate position", &steps.StepError{Op: "reorder", StepID: "B", Err: steps.ErrDuplicatePosition}, KindValidation, "DUPLICATE_POSITION"},
		{"active portals", ErrActivePortals, KindStateConflict, "ACTIVE_PORTALS"},
		{"illegal transition", ErrIllegalTransition, KindStateConflict, "ILLEGAL_TRANSITION"},
		{"version conflict", persistence.NewVersionConflict("update", "wf-1", 1, 2), KindConflict, "VERSION_CONFLICT"},
		{"storage failure", errors.New("disk full"), KindInternal, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.code, CodeOf(tt.err))
		})
	}
}

func TestNewError(t *testing.T) {
	err := newError("deleteWorkflow", ErrActivePortals, "workflow %s is referenced by active portals: %s", "wf-1", "p-1")

	assert.Equal(t, "deleteWorkflow: workflow wf-1 is referenced by active portals: p-1", err.Error())
	assert.Equal(t, KindStateConflict, err.Kind)
	assert.ErrorIs(t, err, ErrActivePortals)
	assert.True(t, IsStateConflict(err))
	assert.False(t, IsNotFound(err))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, wrap("op", nil))

	t.Run("internal errors hide their cause", func(t *testing.T) {
		cause := errors.New("pq: connection refused")
		err := wrap("listWorkflows", cause)

		assert.Equal(t, "listWorkflows: failed to listWorkflows", err.Error())
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, KindInternal, KindOf(err))
	})

	t.Run("known errors keep their message", func(t *testing.T) {
		err := wrap("reorderSteps", &steps.StepError{Op: "reorder", Index: 1, StepID: "B", Err: steps.ErrPositionOutOfRange})

		assert.Contains(t, err.Error(), "step B")
		assert.True(t, IsValidationError(err))
	})

	t.Run("service errors pass through", func(t *testing.T) {
		inner := newError("getWorkflowById", ErrWorkflowNotFound, "workflow %s not found", "wf-1")
		err := wrap("duplicateWorkflow", inner)

		var serviceErr *ServiceError
		assert.True(t, errors.As(err, &serviceErr))
		assert.Equal(t, "getWorkflowById", serviceErr.Op)
	})
}
