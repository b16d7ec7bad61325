package services

import (
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/steps"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecution_Start(t *testing.T) {
	t.Run("draft workflow", func(t *testing.T) {
		env := newTestEnv(t)
		workflow := env.seedWorkflow(t, testutil.WithSteps(testutil.CreateTestSteps(1)))
		env.seedContact(t, "contact-1", "Ada Lovelace")

		_, err := env.executions.Start(t.Context(), StartExecutionRequest{
			WorkflowID: workflow.ID, OrganizationID: org, ContactID: "contact-1",
		})
		require.Error(t, err)
		assert.True(t, IsStateConflict(err))
		assert.ErrorIs(t, err, ErrWorkflowNotActive)
	})

	t.Run("deleted workflow", func(t *testing.T) {
		env := newTestEnv(t)
		workflow := env.seedActiveWorkflow(t, 1)
		env.seedContact(t, "contact-1", "Ada Lovelace")
		require.NoError(t, env.workflows.Delete(t.Context(), DeleteWorkflowRequest{ID: workflow.ID, OrganizationID: org}))

		_, err := env.executions.Start(t.Context(), StartExecutionRequest{
			WorkflowID: workflow.ID, OrganizationID: org, ContactID: "contact-1",
		})
		assert.ErrorIs(t, err, ErrWorkflowNotActive)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.executions.Start(t.Context(), StartExecutionRequest{
			WorkflowID: "missing", OrganizationID: org, ContactID: "contact-1",
		})
		assert.True(t, IsNotFound(err))
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
	})

	t.Run("unknown contact", func(t *testing.T) {
		env := newTestEnv(t)
		workflow := env.seedActiveWorkflow(t, 1)

		_, err := env.executions.Start(t.Context(), StartExecutionRequest{
			WorkflowID: workflow.ID, OrganizationID: org, ContactID: "ghost",
		})
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.ErrorIs(t, err, ErrContactNotFound)
		assert.Contains(t, err.Error(), "ghost")
	})

	t.Run("deleted contact", func(t *testing.T) {
		env := newTestEnv(t)
		workflow := env.seedActiveWorkflow(t, 1)
		contact := testutil.CreateTestContact("contact-1", "Ada Lovelace")
		contact.DeletedAt = &env.clock.T
		require.NoError(t, env.persistence.ContactRepository().Save(t.Context(), contact))

		_, err := env.executions.Start(t.Context(), StartExecutionRequest{
			WorkflowID: workflow.ID, OrganizationID: org, ContactID: "contact-1",
		})
		assert.ErrorIs(t, err, ErrContactNotFound)
	})

	t.Run("valid inputs", func(t *testing.T) {
		env := newTestEnv(t)
		workflow := env.seedActiveWorkflow(t, 3)
		env.seedContact(t, "contact-1", "Ada Lovelace")

		execution, err := env.executions.Start(t.Context(), StartExecutionRequest{
			WorkflowID:     workflow.ID,
			OrganizationID: org,
			ContactID:      "contact-1",
			ActorID:        "user-1",
			Source:         "portal",
			CustomData:     map[string]any{"campaign": "spring"},
		})
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusPending, execution.Status)
		assert.Equal(t, env.clock.T, execution.StartedAt)
		assert.Equal(t, "step-1", execution.CurrentStepID)
		assert.Equal(t, int64(1), execution.Version)
		assert.Equal(t, models.ExecutionContext{
			Source:     "portal",
			CustomData: map[string]any{"campaign": "spring"},
			ExecutedBy: "user-1",
		}, execution.Context)
		require.Len(t, execution.StepSnapshot, 3)
		assert.Equal(t, models.StepRef{ID: "step-1", Title: "Test Step 1", Order: 1, Type: models.StepTypeScreen}, execution.StepSnapshot[0])

		stored := env.storedWorkflow(t, workflow.ID)
		assert.Equal(t, int64(1), stored.Metrics.TotalExecutions)
		require.NotNil(t, stored.Metrics.LastExecutedAt)
		assert.Equal(t, env.clock.T, stored.Metrics.LastExecutedAt.UTC())
		assert.Equal(t, int64(1), stored.Version)

		got, err := env.executions.Get(t.Context(), execution.ID, org)
		require.NoError(t, err)
		assert.Equal(t, execution.ID, got.ID)

		assert.Equal(t, []string{"execution.started"}, env.publishedTypes())
	})
}

func TestExecution_Start_SingleSubmission(t *testing.T) {
	env := newTestEnv(t)
	single := env.seedActiveWorkflow(t, 1)
	multi := env.seedActiveWorkflow(t, 1, testutil.WithMultipleSubmissions(true))
	env.seedContact(t, "contact-1", "Ada Lovelace")

	start := func(workflowID string) (*models.Execution, error) {
		return env.executions.Start(t.Context(), StartExecutionRequest{
			WorkflowID: workflowID, OrganizationID: org, ContactID: "contact-1",
		})
	}

	first, err := start(single.ID)
	require.NoError(t, err)

	_, err = start(single.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateSubmission)
	assert.Contains(t, err.Error(), first.ID)

	_, err = start(multi.ID)
	require.NoError(t, err)
	_, err = start(multi.ID)
	require.NoError(t, err)

	t.Run("a failed execution does not count", func(t *testing.T) {
		_, err := env.executions.Transition(t.Context(), TransitionRequest{ID: first.ID, OrganizationID: org, Status: models.ExecutionStatusInProgress})
		require.NoError(t, err)
		_, err = env.executions.Transition(t.Context(), TransitionRequest{ID: first.ID, OrganizationID: org, Status: models.ExecutionStatusFailed})
		require.NoError(t, err)

		_, err = start(single.ID)
		assert.NoError(t, err)
	})
}

func TestExecution_Transition(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.seedActiveWorkflow(t, 2)
	env.seedContact(t, "contact-1", "Ada Lovelace")

	execution, err := env.executions.Start(t.Context(), StartExecutionRequest{
		WorkflowID: workflow.ID, OrganizationID: org, ContactID: "contact-1",
	})
	require.NoError(t, err)

	t.Run("pending cannot complete", func(t *testing.T) {
		_, err := env.executions.Transition(t.Context(), TransitionRequest{
			ID: execution.ID, OrganizationID: org, Status: models.ExecutionStatusCompleted,
		})
		require.Error(t, err)
		assert.True(t, IsStateConflict(err))
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	running, err := env.executions.Transition(t.Context(), TransitionRequest{
		ID: execution.ID, OrganizationID: org, Status: models.ExecutionStatusInProgress, ExpectedVersion: ptr(int64(1)),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusInProgress, running.Status)
	assert.Equal(t, int64(2), running.Version)

	env.clock.Advance(90 * time.Second)

	completed, err := env.executions.Transition(t.Context(), TransitionRequest{
		ID: execution.ID, OrganizationID: org, Status: models.ExecutionStatusCompleted, Reason: "all done",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)
	assert.Equal(t, 100.0, completed.CompletionRate)
	assert.Equal(t, "all done", completed.StatusReason)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, env.clock.T, *completed.CompletedAt)

	metrics := env.storedWorkflow(t, workflow.ID).Metrics
	assert.Equal(t, int64(1), metrics.CompletedExecutions)
	assert.InDelta(t, 90.0, metrics.AverageCompletionTime, 0.001)

	assert.Equal(t, []string{
		"execution.started", "execution.status_changed", "execution.status_changed",
	}, env.publishedTypes())

	t.Run("stale version", func(t *testing.T) {
		_, err := env.executions.Transition(t.Context(), TransitionRequest{
			ID: execution.ID, OrganizationID: org, Status: models.ExecutionStatusCancelled, ExpectedVersion: ptr(int64(1)),
		})
		assert.True(t, IsConflictError(err))
	})

	t.Run("other organization", func(t *testing.T) {
		_, err := env.executions.Get(t.Context(), execution.ID, "another-org")
		assert.ErrorIs(t, err, ErrExecutionNotFound)
	})
}

func TestExecution_Transition_TerminalStatesAreFinal(t *testing.T) {
	terminal := []models.ExecutionStatus{
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		models.ExecutionStatusCancelled,
	}

	for _, final := range terminal {
		t.Run(string(final), func(t *testing.T) {
			env := newTestEnv(t)
			workflow := env.seedActiveWorkflow(t, 1)
			execution := testutil.CreateTestExecution(workflow, "contact-1", env.clock.T)
			execution.Status = final
			require.NoError(t, env.persistence.ExecutionRepository().Create(t.Context(), execution))

			for _, next := range models.ExecutionStatuses {
				_, err := env.executions.Transition(t.Context(), TransitionRequest{
					ID: execution.ID, OrganizationID: org, Status: next,
				})
				require.Error(t, err, "%s -> %s", final, next)
				assert.True(t, IsStateConflict(err), "%s -> %s", final, next)
			}

			_, err := env.executions.RecordStep(t.Context(), RecordStepRequest{
				ExecutionID: execution.ID, OrganizationID: org, StepID: "step-1", Status: models.StepExecutionStatusCompleted,
			})
			assert.ErrorIs(t, err, ErrExecutionClosed)
		})
	}
}

func TestExecution_RecordStep(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.seedActiveWorkflow(t, 2)
	env.seedContact(t, "contact-1", "Ada Lovelace")

	execution, err := env.executions.Start(t.Context(), StartExecutionRequest{
		WorkflowID: workflow.ID, OrganizationID: org, ContactID: "contact-1",
	})
	require.NoError(t, err)

	record := func(stepID string, status models.StepExecutionStatus) (*models.Execution, error) {
		return env.executions.RecordStep(t.Context(), RecordStepRequest{
			ExecutionID:    execution.ID,
			OrganizationID: org,
			StepID:         stepID,
			Status:         status,
			Response:       map[string]any{"ok": true},
		})
	}

	first, err := record("step-1", models.StepExecutionStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 50.0, first.CompletionRate)
	assert.Equal(t, "step-2", first.CurrentStepID)
	entry, ok := first.FindStepExecution("step-1")
	require.True(t, ok)
	require.NotNil(t, entry.CompletedAt)
	assert.Equal(t, map[string]any{"ok": true}, entry.Response)

	second, err := record("step-2", models.StepExecutionStatusSkipped)
	require.NoError(t, err)
	assert.Equal(t, 50.0, second.CompletionRate)
	assert.Empty(t, second.CurrentStepID)
	assert.Equal(t, int64(3), second.Version)

	reopened, err := record("step-1", models.StepExecutionStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 0.0, reopened.CompletionRate)
	assert.Equal(t, "step-1", reopened.CurrentStepID)
	assert.Len(t, reopened.StepExecutions, 2)

	t.Run("step outside the snapshot", func(t *testing.T) {
		_, err := record("step-9", models.StepExecutionStatusCompleted)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "step-9")
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := record("step-1", models.StepExecutionStatus("done"))
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})
}

func TestExecution_RecordStep_UsesSnapshotNotLiveSteps(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.seedActiveWorkflow(t, 2)
	env.seedContact(t, "contact-1", "Ada Lovelace")

	execution, err := env.executions.Start(t.Context(), StartExecutionRequest{
		WorkflowID: workflow.ID, OrganizationID: org, ContactID: "contact-1",
	})
	require.NoError(t, err)

	_, err = env.workflows.ApplyStepActions(t.Context(), ApplyStepActionsRequest{
		WorkflowID:     workflow.ID,
		OrganizationID: org,
		Actions: []steps.Action{
			{Type: steps.ActionDelete, ID: "step-2"},
			{Type: steps.ActionCreate, ID: "step-3", Title: ptr("Added later"), StepType: ptr(models.StepTypeScreen)},
		},
	})
	require.NoError(t, err)

	updated, err := env.executions.RecordStep(t.Context(), RecordStepRequest{
		ExecutionID: execution.ID, OrganizationID: org, StepID: "step-2", Status: models.StepExecutionStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, 50.0, updated.CompletionRate)

	_, err = env.executions.RecordStep(t.Context(), RecordStepRequest{
		ExecutionID: execution.ID, OrganizationID: org, StepID: "step-3", Status: models.StepExecutionStatusCompleted,
	})
	assert.ErrorIs(t, err, ErrStepNotInSnapshot)
}

func TestExecution_List(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.seedActiveWorkflow(t, 1, testutil.WithMultipleSubmissions(true))
	env.seedContact(t, "contact-1", "Ada Lovelace")
	env.seedContact(t, "contact-2", "Grace Hopper")
	require.NoError(t, env.persistence.UserRepository().Save(t.Context(), &models.User{ID: "user-1", Name: "Operator"}))

	for _, contactID := range []string{"contact-1", "contact-2", "contact-1"} {
		_, err := env.executions.Start(t.Context(), StartExecutionRequest{
			WorkflowID: workflow.ID, OrganizationID: org, ContactID: contactID, ActorID: "user-1",
		})
		require.NoError(t, err)
		env.clock.Advance(time.Minute)
	}

	resp, err := env.executions.List(t.Context(), ListExecutionsRequest{
		WorkflowID: workflow.ID, OrganizationID: org, Limit: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.TotalCount)
	assert.True(t, resp.HasNextPage)
	require.Len(t, resp.Executions, 2)

	// newest first
	assert.Equal(t, "Ada Lovelace", resp.Executions[0].ContactName)
	assert.Equal(t, "Grace Hopper", resp.Executions[1].ContactName)
	assert.Equal(t, "Operator", resp.Executions[0].ExecutedByName)

	rest, err := env.executions.List(t.Context(), ListExecutionsRequest{
		WorkflowID: workflow.ID, OrganizationID: org, Limit: 2, Offset: 2,
	})
	require.NoError(t, err)
	assert.Len(t, rest.Executions, 1)
	assert.False(t, rest.HasNextPage)

	completed := models.ExecutionStatusCompleted
	none, err := env.executions.List(t.Context(), ListExecutionsRequest{
		WorkflowID: workflow.ID, OrganizationID: org, Status: &completed,
	})
	require.NoError(t, err)
	assert.Empty(t, none.Executions)
	assert.Zero(t, none.TotalCount)

	bogus := models.ExecutionStatus("stuck")
	_, err = env.executions.List(t.Context(), ListExecutionsRequest{
		WorkflowID: workflow.ID, OrganizationID: org, Status: &bogus,
	})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = env.executions.List(t.Context(), ListExecutionsRequest{WorkflowID: "missing", OrganizationID: org})
	assert.True(t, IsNotFound(err))
}
