package mongodb

import (
	"context"
	"fmt"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ExecutionRepository stores execution documents in the executions collection.
type ExecutionRepository struct {
	col *mongod.Collection
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	_, err := r.col.InsertOne(ctx, execution)
	if mongod.IsDuplicateKeyError(err) {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	var execution models.Execution

	found, err := findOne(ctx, r.col, bson.M{"id": id}, &execution)
	if err != nil || !found {
		return nil, err
	}

	return &execution, nil
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution, expectedVersion int64) error {
	next := *execution
	next.Version = expectedVersion + 1

	result, err := r.col.ReplaceOne(ctx, bson.M{"id": execution.ID, "version": expectedVersion}, &next)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if result.MatchedCount == 0 {
		count, err := r.col.CountDocuments(ctx, bson.M{"id": execution.ID})
		if err != nil {
			return persistence.NewExecutionError("Update", execution.ID, err)
		}

		if count == 0 {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
	}

	execution.Version = next.Version

	return nil
}

func executionFilter(filter persistence.ExecutionFilter) bson.M {
	m := bson.M{}

	if filter.WorkflowID != "" {
		m["workflow_id"] = filter.WorkflowID
	}

	if filter.OrganizationID != "" {
		m["organization_id"] = filter.OrganizationID
	}

	if filter.Status != nil {
		m["status"] = *filter.Status
	}

	return m
}

func (r *ExecutionRepository) ListExecutions(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: opts.SortBy, Value: sortDirection(opts.SortOrder)}, {Key: "id", Value: 1}}).
		SetSkip(int64(opts.Offset)).
		SetLimit(int64(opts.Limit))

	return findAll[models.Execution](ctx, r.col, executionFilter(opts.ExecutionFilter), findOpts)
}

func (r *ExecutionRepository) CountExecutions(ctx context.Context, filter persistence.ExecutionFilter) (int64, error) {
	total, err := r.col.CountDocuments(ctx, executionFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return total, nil
}

func (r *ExecutionRepository) FindByWorkflow(ctx context.Context, workflowID, organizationID string) ([]*models.Execution, error) {
	filter := executionFilter(persistence.ExecutionFilter{WorkflowID: workflowID, OrganizationID: organizationID})

	return findAll[models.Execution](ctx, r.col, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}
