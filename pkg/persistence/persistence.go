// Package persistence provides the data storage abstraction for workflows,
// their executions and the reference data they point at.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	ContactRepository() ContactRepository
	PortalRepository() PortalRepository
	UserRepository() UserRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow documents with their embedded steps.
// Lookups return (nil, nil) when nothing matches.
type WorkflowRepository interface {
	Create(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)

	// Update writes the workflow only if the stored version equals
	// expectedVersion, then sets workflow.Version to expectedVersion+1.
	// Metrics are never written by Update.
	Update(ctx context.Context, workflow *models.Workflow, expectedVersion int64) error

	// Delete removes the document if the stored version equals expectedVersion.
	Delete(ctx context.Context, id string, expectedVersion int64) error

	// RecordExecution increments total executions and sets the last execution time.
	RecordExecution(ctx context.Context, id string, at time.Time) error

	// RecordCompletion increments completed executions and folds seconds into the
	// running average completion time.
	RecordCompletion(ctx context.Context, id string, seconds float64) error
}

// ExecutionRepository stores execution records. Lookups return (nil, nil) when
// nothing matches.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	Update(ctx context.Context, execution *models.Execution, expectedVersion int64) error
	ListExecutions(ctx context.Context, opts ListExecutionsOptions) ([]*models.Execution, error)
	CountExecutions(ctx context.Context, filter ExecutionFilter) (int64, error)
	FindByWorkflow(ctx context.Context, workflowID, organizationID string) ([]*models.Execution, error)
}

type ContactRepository interface {
	// Get returns the contact if it exists in the organization, deleted or not.
	Get(ctx context.Context, id, organizationID string) (*models.Contact, error)
	Save(ctx context.Context, contact *models.Contact) error
}

type PortalRepository interface {
	// ListActiveByWorkflow returns non-deleted active portals referencing the workflow.
	ListActiveByWorkflow(ctx context.Context, workflowID, organizationID string) ([]*models.Portal, error)
	Save(ctx context.Context, portal *models.Portal) error
}

type UserRepository interface {
	Get(ctx context.Context, id string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
}
