package file

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations. A mutex
// serializes read-modify-write cycles so version checks and metric updates
// are atomic within the process.
type WorkflowRepository struct {
	mu    sync.Mutex
	store collection
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{store: collection{dir: filepath.Join(root, "workflows")}}
}

func (wr *WorkflowRepository) Create(_ context.Context, workflow *models.Workflow) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	exists, err := wr.store.exists(workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	if exists {
		return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
	}

	return wr.store.write(workflow.ID, workflow)
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	found, err := wr.store.read(id, &workflow)
	if err != nil || !found {
		return nil, err
	}

	return &workflow, nil
}

// ListWorkflows returns paginated and filtered workflows with in-memory operations.
func (wr *WorkflowRepository) ListWorkflows(_ context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	search := strings.ToLower(opts.Search)

	filtered, err := all(wr.store, func(w *models.Workflow) bool {
		switch {
		case opts.OrganizationID != "" && w.OrganizationID != opts.OrganizationID:
			return false
		case !opts.IncludeDeleted && w.IsDeleted():
			return false
		case opts.Status != nil && w.Status != *opts.Status:
			return false
		case opts.TriggerType != nil && w.Trigger.Type != *opts.TriggerType:
			return false
		case search != "":
			return strings.Contains(strings.ToLower(w.Title), search) ||
				strings.Contains(strings.ToLower(w.Description), search)
		default:
			return true
		}
	})
	if err != nil {
		return nil, err
	}

	sortWorkflows(filtered, opts.SortBy, opts.SortOrder)

	page, hasNext := paginate(filtered, opts.Offset, opts.Limit)

	return &persistence.WorkflowListResult{
		Workflows:   page,
		TotalCount:  int64(len(filtered)),
		HasNextPage: hasNext,
	}, nil
}

// sortWorkflows sorts workflows in-place based on the specified field and order.
func sortWorkflows(workflows []*models.Workflow, sortBy, sortOrder string) {
	sort.SliceStable(workflows, func(i, j int) bool {
		a, b := workflows[i], workflows[j]
		if sortOrder == persistence.SortDesc {
			a, b = b, a
		}

		switch sortBy {
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "title":
			return a.Title < b.Title
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
}

func paginate[T any](items []T, offset, limit int) ([]T, bool) {
	if offset >= len(items) {
		return make([]T, 0), false
	}

	end := min(offset+limit, len(items))

	return items[offset:end], end < len(items)
}

func (wr *WorkflowRepository) Update(_ context.Context, workflow *models.Workflow, expectedVersion int64) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	var stored models.Workflow

	found, err := wr.store.read(workflow.ID, &stored)
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	if !found {
		return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound)
	}

	if stored.Version != expectedVersion {
		return persistence.NewVersionConflict("Update", workflow.ID, expectedVersion, stored.Version)
	}

	workflow.Version = expectedVersion + 1
	workflow.Metrics = stored.Metrics

	return wr.store.write(workflow.ID, workflow)
}

// Delete removes a workflow by its ID.
func (wr *WorkflowRepository) Delete(_ context.Context, id string, expectedVersion int64) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	var stored models.Workflow

	found, err := wr.store.read(id, &stored)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if !found {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	if stored.Version != expectedVersion {
		return persistence.NewVersionConflict("Delete", id, expectedVersion, stored.Version)
	}

	return wr.store.remove(id)
}

func (wr *WorkflowRepository) RecordExecution(_ context.Context, id string, at time.Time) error {
	return wr.updateMetrics("RecordExecution", id, func(m *models.Metrics) {
		m.TotalExecutions++
		m.LastExecutedAt = &at
	})
}

func (wr *WorkflowRepository) RecordCompletion(_ context.Context, id string, seconds float64) error {
	return wr.updateMetrics("RecordCompletion", id, func(m *models.Metrics) {
		m.AverageCompletionTime = (m.AverageCompletionTime*float64(m.CompletedExecutions) + seconds) /
			float64(m.CompletedExecutions+1)
		m.CompletedExecutions++
	})
}

func (wr *WorkflowRepository) updateMetrics(op, id string, apply func(*models.Metrics)) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	var stored models.Workflow

	found, err := wr.store.read(id, &stored)
	if err != nil {
		return persistence.NewWorkflowError(op, id, err)
	}

	if !found {
		return persistence.NewWorkflowError(op, id, persistence.ErrWorkflowNotFound)
	}

	apply(&stored.Metrics)

	return wr.store.write(id, &stored)
}
