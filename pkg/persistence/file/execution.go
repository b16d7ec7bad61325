package file

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	mu    sync.Mutex
	store collection
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{store: collection{dir: filepath.Join(root, "executions")}}
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	exists, err := er.store.exists(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if exists {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return er.store.write(execution.ID, execution)
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	var execution models.Execution

	found, err := er.store.read(id, &execution)
	if err != nil || !found {
		return nil, err
	}

	return &execution, nil
}

func (er *ExecutionRepository) Update(_ context.Context, execution *models.Execution, expectedVersion int64) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	var stored models.Execution

	found, err := er.store.read(execution.ID, &stored)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if !found {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	if stored.Version != expectedVersion {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
	}

	execution.Version = expectedVersion + 1

	return er.store.write(execution.ID, execution)
}

func (er *ExecutionRepository) ListExecutions(_ context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	executions, err := all(er.store, matchExecution(opts.ExecutionFilter))
	if err != nil {
		return nil, err
	}

	sortExecutions(executions, opts.SortBy, opts.SortOrder)

	page, _ := paginate(executions, opts.Offset, opts.Limit)

	return page, nil
}

func (er *ExecutionRepository) CountExecutions(_ context.Context, filter persistence.ExecutionFilter) (int64, error) {
	executions, err := all(er.store, matchExecution(filter))
	if err != nil {
		return 0, err
	}

	return int64(len(executions)), nil
}

func (er *ExecutionRepository) FindByWorkflow(_ context.Context, workflowID, organizationID string) ([]*models.Execution, error) {
	return all(er.store, matchExecution(persistence.ExecutionFilter{
		WorkflowID:     workflowID,
		OrganizationID: organizationID,
	}))
}

func matchExecution(filter persistence.ExecutionFilter) func(*models.Execution) bool {
	return func(e *models.Execution) bool {
		switch {
		case filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID:
			return false
		case filter.OrganizationID != "" && e.OrganizationID != filter.OrganizationID:
			return false
		case filter.Status != nil && e.Status != *filter.Status:
			return false
		default:
			return true
		}
	}
}

func sortExecutions(executions []*models.Execution, sortBy, sortOrder string) {
	sort.SliceStable(executions, func(i, j int) bool {
		a, b := executions[i], executions[j]
		if sortOrder == persistence.SortDesc {
			a, b = b, a
		}

		switch sortBy {
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "completed_at":
			return timeOrZero(a.CompletedAt).Before(timeOrZero(b.CompletedAt))
		case "status":
			return a.Status < b.Status
		default:
			return a.StartedAt.Before(b.StartedAt)
		}
	})
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}

	return *t
}
