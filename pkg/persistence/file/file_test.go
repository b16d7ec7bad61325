package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflow(id, title string, status models.WorkflowStatus, created time.Time) *models.Workflow {
	return &models.Workflow{
		ID:             id,
		OrganizationID: "org-1",
		Title:          title,
		Status:         status,
		Trigger:        models.Trigger{Type: models.TriggerTypeManual},
		Steps: models.Steps{
			{ID: "s1", Title: "Collect ID", Type: models.StepTypeForm, Order: 1},
		},
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("/tmp/test")
	fp := p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)

	p = NewPersistence("file:///tmp/test")
	fp = p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()))
	assert.NoError(t, NewPersistence(t.TempDir()).Close(t.Context()))
}

func TestWorkflowRepository_CreateAndGet(t *testing.T) {
	dir := t.TempDir()
	repo := NewPersistence(dir).WorkflowRepository()

	workflow := newWorkflow("wf-1", "Onboarding", models.WorkflowStatusDraft, time.Now().UTC())
	require.NoError(t, repo.Create(t.Context(), workflow))

	_, err := os.Stat(filepath.Join(dir, "workflows", "wf-1.json"))
	require.NoError(t, err)

	err = repo.Create(t.Context(), workflow)
	assert.ErrorIs(t, err, persistence.ErrWorkflowAlreadyExists)

	got, err := repo.GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Onboarding", got.Title)
	assert.Equal(t, "Collect ID", got.Steps[0].Title)

	missing, err := repo.GetByID(t.Context(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	_, err = repo.GetByID(t.Context(), "../etc/passwd")
	assert.ErrorIs(t, err, persistence.ErrInvalidID)
}

func TestWorkflowRepository_UpdateCompareAndSwap(t *testing.T) {
	repo := NewPersistence(t.TempDir()).WorkflowRepository()
	ctx := t.Context()

	require.NoError(t, repo.Create(ctx, newWorkflow("wf-1", "Onboarding", models.WorkflowStatusDraft, time.Now())))

	first, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)

	second, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)

	first.Title = "First writer"
	require.NoError(t, repo.Update(ctx, first, 1))
	assert.Equal(t, int64(2), first.Version)

	second.Title = "Second writer"
	err = repo.Update(ctx, second, 1)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "First writer", stored.Title)
	assert.Equal(t, int64(2), stored.Version)

	err = repo.Update(ctx, newWorkflow("ghost", "x", models.WorkflowStatusDraft, time.Now()), 1)
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_UpdateKeepsMetrics(t *testing.T) {
	repo := NewPersistence(t.TempDir()).WorkflowRepository()
	ctx := t.Context()

	require.NoError(t, repo.Create(ctx, newWorkflow("wf-1", "Onboarding", models.WorkflowStatusActive, time.Now())))

	stale, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordExecution(ctx, "wf-1", at))

	stale.Description = "edited"
	require.NoError(t, repo.Update(ctx, stale, 1))
	assert.Equal(t, int64(1), stale.Metrics.TotalExecutions)

	stored, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Metrics.TotalExecutions)
	require.NotNil(t, stored.Metrics.LastExecutedAt)
	assert.True(t, at.Equal(*stored.Metrics.LastExecutedAt))
	assert.Equal(t, "edited", stored.Description)
}

func TestWorkflowRepository_RecordCompletionAverages(t *testing.T) {
	repo := NewPersistence(t.TempDir()).WorkflowRepository()
	ctx := t.Context()

	require.NoError(t, repo.Create(ctx, newWorkflow("wf-1", "Onboarding", models.WorkflowStatusActive, time.Now())))
	require.NoError(t, repo.RecordCompletion(ctx, "wf-1", 60))
	require.NoError(t, repo.RecordCompletion(ctx, "wf-1", 120))

	stored, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Metrics.CompletedExecutions)
	assert.InDelta(t, 90.0, stored.Metrics.AverageCompletionTime, 0.0001)
	assert.Equal(t, int64(1), stored.Version)

	assert.ErrorIs(t, repo.RecordCompletion(ctx, "missing", 1), persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_ConcurrentRecordExecution(t *testing.T) {
	repo := NewPersistence(t.TempDir()).WorkflowRepository()
	ctx := t.Context()

	require.NoError(t, repo.Create(ctx, newWorkflow("wf-1", "Onboarding", models.WorkflowStatusActive, time.Now())))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			assert.NoError(t, repo.RecordExecution(ctx, "wf-1", time.Now()))
		}()
	}

	wg.Wait()

	stored, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), stored.Metrics.TotalExecutions)
}

func TestWorkflowRepository_Delete(t *testing.T) {
	repo := NewPersistence(t.TempDir()).WorkflowRepository()
	ctx := t.Context()

	require.NoError(t, repo.Create(ctx, newWorkflow("wf-1", "Onboarding", models.WorkflowStatusDraft, time.Now())))

	assert.True(t, persistence.IsVersionConflict(repo.Delete(ctx, "wf-1", 7)))
	require.NoError(t, repo.Delete(ctx, "wf-1", 1))

	got, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, repo.Delete(ctx, "wf-1", 1), persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_ListWorkflows(t *testing.T) {
	repo := NewPersistence(t.TempDir()).WorkflowRepository()
	ctx := t.Context()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	deleted := newWorkflow("wf-4", "Deleted", models.WorkflowStatusDeleted, base.Add(4*time.Hour))
	deleted.DeletedAt = &base

	other := newWorkflow("wf-5", "Other org", models.WorkflowStatusActive, base.Add(5*time.Hour))
	other.OrganizationID = "org-2"

	scheduled := newWorkflow("wf-3", "Nightly report", models.WorkflowStatusActive, base.Add(3*time.Hour))
	scheduled.Trigger = models.Trigger{Type: models.TriggerTypeSchedule, Schedule: "0 2 * * *"}

	for _, wf := range []*models.Workflow{
		newWorkflow("wf-1", "Onboarding", models.WorkflowStatusDraft, base.Add(time.Hour)),
		newWorkflow("wf-2", "Offboarding", models.WorkflowStatusActive, base.Add(2*time.Hour)),
		scheduled,
		deleted,
		other,
	} {
		require.NoError(t, repo.Create(ctx, wf))
	}

	ids := func(result *persistence.WorkflowListResult) []string {
		out := make([]string, len(result.Workflows))
		for i, wf := range result.Workflows {
			out[i] = wf.ID
		}

		return out
	}

	t.Run("excludes deleted and other organizations, newest first", func(t *testing.T) {
		result, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{OrganizationID: "org-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"wf-3", "wf-2", "wf-1"}, ids(result))
		assert.Equal(t, int64(3), result.TotalCount)
		assert.False(t, result.HasNextPage)
	})

	t.Run("status filter", func(t *testing.T) {
		status := models.WorkflowStatusActive
		result, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{OrganizationID: "org-1", Status: &status})
		require.NoError(t, err)
		assert.Equal(t, []string{"wf-3", "wf-2"}, ids(result))
	})

	t.Run("trigger filter", func(t *testing.T) {
		trigger := models.TriggerTypeSchedule
		result, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{OrganizationID: "org-1", TriggerType: &trigger})
		require.NoError(t, err)
		assert.Equal(t, []string{"wf-3"}, ids(result))
	})

	t.Run("search is case insensitive", func(t *testing.T) {
		result, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{OrganizationID: "org-1", Search: "BOARDING"})
		require.NoError(t, err)
		assert.Equal(t, []string{"wf-2", "wf-1"}, ids(result))
	})

	t.Run("sort by title ascending with pagination", func(t *testing.T) {
		result, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{
			OrganizationID: "org-1",
			SortBy:         "title",
			SortOrder:      "asc",
			Limit:          2,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"wf-3", "wf-2"}, ids(result))
		assert.True(t, result.HasNextPage)

		result, err = repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{
			OrganizationID: "org-1",
			SortBy:         "title",
			SortOrder:      "asc",
			Limit:          2,
			Offset:         2,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"wf-1"}, ids(result))
		assert.False(t, result.HasNextPage)
	})

	t.Run("invalid sort field", func(t *testing.T) {
		_, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{SortBy: "name; DROP TABLE workflows; --"})
		assert.ErrorIs(t, err, persistence.ErrInvalidListOptions)
	})
}

func TestExecutionRepository(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ExecutionRepository()
	ctx := t.Context()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, status := range []models.ExecutionStatus{
		models.ExecutionStatusPending,
		models.ExecutionStatusCompleted,
		models.ExecutionStatusPending,
	} {
		started := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.Create(ctx, &models.Execution{
			ID:             "exec-" + string(rune('a'+i)),
			WorkflowID:     "wf-1",
			OrganizationID: "org-1",
			ContactID:      "contact-1",
			Status:         status,
			StartedAt:      started,
			CreatedAt:      started,
			Version:        1,
		}))
	}

	require.NoError(t, repo.Create(ctx, &models.Execution{ID: "exec-x", WorkflowID: "wf-2", OrganizationID: "org-1", Version: 1}))

	t.Run("duplicate create", func(t *testing.T) {
		err := repo.Create(ctx, &models.Execution{ID: "exec-a"})
		assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)
	})

	t.Run("list sorted and counted", func(t *testing.T) {
		pending := models.ExecutionStatusPending
		filter := persistence.ExecutionFilter{WorkflowID: "wf-1", OrganizationID: "org-1", Status: &pending}

		page, err := repo.ListExecutions(ctx, persistence.ListExecutionsOptions{ExecutionFilter: filter})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "exec-c", page[0].ID)
		assert.Equal(t, "exec-a", page[1].ID)

		count, err := repo.CountExecutions(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		page, err = repo.ListExecutions(ctx, persistence.ListExecutionsOptions{
			ExecutionFilter: persistence.ExecutionFilter{WorkflowID: "wf-1"},
			SortOrder:       "asc",
			Limit:           1,
			Offset:          1,
		})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "exec-b", page[0].ID)
	})

	t.Run("find by workflow", func(t *testing.T) {
		executions, err := repo.FindByWorkflow(ctx, "wf-1", "org-1")
		require.NoError(t, err)
		assert.Len(t, executions, 3)
	})

	t.Run("update compare and swap", func(t *testing.T) {
		exec, err := repo.GetByID(ctx, "exec-a")
		require.NoError(t, err)
		require.NotNil(t, exec)

		exec.Status = models.ExecutionStatusInProgress
		require.NoError(t, repo.Update(ctx, exec, 1))
		assert.Equal(t, int64(2), exec.Version)

		assert.ErrorIs(t, repo.Update(ctx, exec, 1), persistence.ErrVersionConflict)
		assert.ErrorIs(t, repo.Update(ctx, &models.Execution{ID: "exec-zz"}, 0), persistence.ErrExecutionNotFound)
	})
}

func TestReferenceRepositories(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := t.Context()
	now := time.Now().UTC()

	require.NoError(t, p.ContactRepository().Save(ctx, &models.Contact{ID: "c1", OrganizationID: "org-1", Name: "Ada"}))

	contact, err := p.ContactRepository().Get(ctx, "c1", "org-1")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Ada", contact.Name)

	contact, err = p.ContactRepository().Get(ctx, "c1", "org-2")
	require.NoError(t, err)
	assert.Nil(t, contact)

	for _, portal := range []*models.Portal{
		{ID: "p1", OrganizationID: "org-1", WorkflowID: "wf-1", Status: models.PortalStatusActive},
		{ID: "p2", OrganizationID: "org-1", WorkflowID: "wf-1", Status: models.PortalStatusInactive},
		{ID: "p3", OrganizationID: "org-1", WorkflowID: "wf-1", Status: models.PortalStatusActive, DeletedAt: &now},
		{ID: "p4", OrganizationID: "org-1", WorkflowID: "wf-2", Status: models.PortalStatusActive},
	} {
		require.NoError(t, p.PortalRepository().Save(ctx, portal))
	}

	portals, err := p.PortalRepository().ListActiveByWorkflow(ctx, "wf-1", "org-1")
	require.NoError(t, err)
	require.Len(t, portals, 1)
	assert.Equal(t, "p1", portals[0].ID)

	require.NoError(t, p.UserRepository().Save(ctx, &models.User{ID: "u1", Name: "Grace"}))

	user, err := p.UserRepository().Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Grace", user.Name)
}
