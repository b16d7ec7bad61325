package services

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietOptions() []Option {
	return []Option{WithLogger(slog.New(slog.DiscardHandler))}
}

func TestWorkflow_HealthCheck_Unhealthy(t *testing.T) {
	p := mocks.NewMockPersistence()
	p.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	message, ok := NewWorkflow(p, quietOptions()...).HealthCheck(t.Context())

	assert.False(t, ok)
	assert.Contains(t, message, "connection refused")
}

func TestWorkflow_List_HidesStorageErrors(t *testing.T) {
	p := mocks.NewMockPersistence()
	cause := errors.New("pq: connection refused")
	p.Workflows.On("ListWorkflows", mock.Anything, mock.Anything).Return(nil, cause)

	_, err := NewWorkflow(p, quietOptions()...).List(t.Context(), ListWorkflowsRequest{OrganizationID: org})

	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, err.Error(), "pq:")
}

func TestExecution_Start_StorageFailures(t *testing.T) {
	workflow := testutil.CreateTestWorkflow(
		testutil.WithStatus(models.WorkflowStatusActive),
		testutil.WithSteps(testutil.CreateTestSteps(2)),
		testutil.WithMultipleSubmissions(true),
	)
	contact := testutil.CreateTestContact("contact-1", "Ada Lovelace")
	req := StartExecutionRequest{WorkflowID: workflow.ID, OrganizationID: org, ContactID: contact.ID}

	t.Run("metrics failure does not fail the start", func(t *testing.T) {
		p := mocks.NewMockPersistence()
		p.Workflows.On("GetByID", mock.Anything, workflow.ID).Return(workflow, nil)
		p.Contacts.On("Get", mock.Anything, contact.ID, org).Return(contact, nil)
		p.Executions.On("Create", mock.Anything, mock.AnythingOfType("*models.Execution")).Return(nil)
		p.Workflows.On("RecordExecution", mock.Anything, workflow.ID, mock.Anything).Return(errors.New("timeout"))

		execution, err := NewExecution(p, quietOptions()...).Start(t.Context(), req)
		require.NoError(t, err)
		assert.Equal(t, "step-1", execution.CurrentStepID)

		p.Workflows.AssertExpectations(t)
		p.Executions.AssertExpectations(t)
	})

	t.Run("contact lookup failure is internal", func(t *testing.T) {
		p := mocks.NewMockPersistence()
		p.Workflows.On("GetByID", mock.Anything, workflow.ID).Return(workflow, nil)
		p.Contacts.On("Get", mock.Anything, contact.ID, org).Return(nil, errors.New("i/o timeout"))

		_, err := NewExecution(p, quietOptions()...).Start(t.Context(), req)
		assert.Equal(t, KindInternal, KindOf(err))
		p.Executions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}
