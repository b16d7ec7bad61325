package mongodb_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/mongodb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var mongoURI string

func setupTestDB(t *testing.T) (*mongodb.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	if mongoURI == "" {
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "mongo:7",
				ExposedPorts: []string{"27017/tcp"},
				WaitingFor:   wait.ForListeningPort("27017/tcp"),
			},
			Started: true,
		})
		require.NoError(t, err)

		endpoint, err := container.Endpoint(ctx, "")
		require.NoError(t, err)

		mongoURI = "mongodb://" + endpoint
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	// each test gets its own database
	uri := fmt.Sprintf("%s/stepflow_%s", mongoURI, uuid.NewString()[:8])

	p, err := mongodb.NewPersistence(ctx, logger, uri)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, p.Close(context.Background()))
	})

	return p, ctx
}

func newWorkflow(title string, status models.WorkflowStatus) *models.Workflow {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return &models.Workflow{
		ID:             uuid.NewString(),
		OrganizationID: "org-1",
		Title:          title,
		Status:         status,
		Trigger:        models.Trigger{Type: models.TriggerTypeManual},
		Steps: models.Steps{
			{
				ID:     "s1",
				Title:  "Wait",
				Type:   models.StepTypeDelay,
				Order:  1,
				Config: models.StepConfig{Delay: &models.DelayConfig{DurationSeconds: 60}},
			},
		},
		Settings:  models.DefaultSettings(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestWorkflowRepository(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.WorkflowRepository()

	require.NoError(t, p.HealthCheck(ctx))

	workflow := newWorkflow("Onboarding", models.WorkflowStatusDraft)
	require.NoError(t, repo.Create(ctx, workflow))
	assert.ErrorIs(t, repo.Create(ctx, workflow), persistence.ErrWorkflowAlreadyExists)

	got, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, workflow.Title, got.Title)
	require.NotNil(t, got.Steps[0].Config.Delay)
	assert.Equal(t, int64(60), got.Steps[0].Config.Delay.DurationSeconds)

	require.NoError(t, repo.RecordExecution(ctx, workflow.ID, time.Now()))
	require.NoError(t, repo.RecordCompletion(ctx, workflow.ID, 10))
	require.NoError(t, repo.RecordCompletion(ctx, workflow.ID, 20))

	got.Title = "Renamed"
	require.NoError(t, repo.Update(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, int64(1), got.Metrics.TotalExecutions)
	assert.Equal(t, int64(2), got.Metrics.CompletedExecutions)
	assert.InDelta(t, 15.0, got.Metrics.AverageCompletionTime, 0.0001)

	assert.True(t, persistence.IsVersionConflict(repo.Update(ctx, got, 1)))

	missing, err := repo.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Delete(ctx, workflow.ID, 2))
	assert.ErrorIs(t, repo.Delete(ctx, workflow.ID, 2), persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_ListWorkflows(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.WorkflowRepository()

	for i, title := range []string{"Onboarding", "Offboarding", "Expense (report)"} {
		wf := newWorkflow(title, models.WorkflowStatusActive)
		wf.CreatedAt = wf.CreatedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, wf))
	}

	deleted := newWorkflow("Deleted onboarding", models.WorkflowStatusDeleted)
	require.NoError(t, repo.Create(ctx, deleted))

	result, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.Equal(t, "Expense (report)", result.Workflows[0].Title)

	active := models.WorkflowStatusActive
	result, err = repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{
		OrganizationID: "org-1", Status: &active, Search: "BOARD", SortBy: "title", SortOrder: "asc",
	})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 2)
	assert.Equal(t, "Offboarding", result.Workflows[0].Title)

	result, err = repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{OrganizationID: "org-1", Search: "(report)"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalCount)
}

func TestExecutionAndReferenceRepositories(t *testing.T) {
	p, ctx := setupTestDB(t)
	executions := p.ExecutionRepository()

	execution := &models.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     "wf-1",
		OrganizationID: "org-1",
		ContactID:      "c1",
		Status:         models.ExecutionStatusPending,
		StartedAt:      time.Now().UTC(),
		CreatedAt:      time.Now().UTC(),
		Context:        models.ExecutionContext{Source: "portal", CustomData: map[string]any{"campaign": "spring"}},
		Version:        1,
	}
	require.NoError(t, executions.Create(ctx, execution))

	require.NoError(t, execution.Transition(models.ExecutionStatusInProgress, time.Now()))
	require.NoError(t, executions.Update(ctx, execution, 1))
	assert.ErrorIs(t, executions.Update(ctx, execution, 1), persistence.ErrVersionConflict)

	got, err := executions.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusInProgress, got.Status)
	assert.Equal(t, "spring", got.Context.CustomData["campaign"])

	count, err := executions.CountExecutions(ctx, persistence.ExecutionFilter{WorkflowID: "wf-1", OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	list, err := executions.ListExecutions(ctx, persistence.ListExecutionsOptions{
		ExecutionFilter: persistence.ExecutionFilter{WorkflowID: "wf-1"},
	})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, p.ContactRepository().Save(ctx, &models.Contact{ID: "c1", OrganizationID: "org-1", Name: "Ada"}))
	contact, err := p.ContactRepository().Get(ctx, "c1", "org-1")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Ada", contact.Name)

	now := time.Now().UTC()
	require.NoError(t, p.PortalRepository().Save(ctx, &models.Portal{ID: "p1", OrganizationID: "org-1", WorkflowID: "wf-1", Status: models.PortalStatusActive}))
	require.NoError(t, p.PortalRepository().Save(ctx, &models.Portal{ID: "p2", OrganizationID: "org-1", WorkflowID: "wf-1", Status: models.PortalStatusActive, DeletedAt: &now}))

	portals, err := p.PortalRepository().ListActiveByWorkflow(ctx, "wf-1", "org-1")
	require.NoError(t, err)
	require.Len(t, portals, 1)
	assert.Equal(t, "p1", portals[0].ID)

	require.NoError(t, p.UserRepository().Save(ctx, &models.User{ID: "u1", Name: "Grace"}))
	user, err := p.UserRepository().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Grace", user.Name)
}
