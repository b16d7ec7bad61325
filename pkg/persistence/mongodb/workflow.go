package mongodb

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// WorkflowRepository stores workflow documents in the workflows collection.
type WorkflowRepository struct {
	col *mongod.Collection
}

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	_, err := r.col.InsertOne(ctx, workflow)
	if mongod.IsDuplicateKeyError(err) {
		return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
	}

	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	found, err := findOne(ctx, r.col, bson.M{"id": id}, &workflow)
	if err != nil || !found {
		return nil, err
	}

	return &workflow, nil
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	filter := bson.M{}

	if opts.OrganizationID != "" {
		filter["organization_id"] = opts.OrganizationID
	}

	if !opts.IncludeDeleted {
		filter["deleted_at"] = nil
		filter["status"] = bson.M{"$ne": models.WorkflowStatusDeleted}
	}

	if opts.Status != nil {
		if opts.IncludeDeleted {
			filter["status"] = *opts.Status
		} else {
			filter["status"] = bson.M{"$eq": *opts.Status, "$ne": models.WorkflowStatusDeleted}
		}
	}

	if opts.TriggerType != nil {
		filter["trigger.type"] = *opts.TriggerType
	}

	if opts.Search != "" {
		pattern := bson.Regex{Pattern: regexp.QuoteMeta(opts.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"description": pattern},
		}
	}

	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: opts.SortBy, Value: sortDirection(opts.SortOrder)}, {Key: "id", Value: 1}}).
		SetSkip(int64(opts.Offset)).
		SetLimit(int64(opts.Limit))

	workflows, err := findAll[models.Workflow](ctx, r.col, filter, findOpts)
	if err != nil {
		return nil, err
	}

	return &persistence.WorkflowListResult{
		Workflows:   workflows,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(workflows)) < total,
	}, nil
}

// Update sets every field except metrics, predicated on the stored version.
func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.Workflow, expectedVersion int64) error {
	set := bson.M{
		"organization_id":  workflow.OrganizationID,
		"title":            workflow.Title,
		"description":      workflow.Description,
		"status":           workflow.Status,
		"trigger":          workflow.Trigger,
		"steps":            workflow.Steps,
		"settings":         workflow.Settings,
		"version":          expectedVersion + 1,
		"template_id":      workflow.TemplateID,
		"retired_step_ids": workflow.RetiredStepIDs,
		"created_by":       workflow.CreatedBy,
		"updated_by":       workflow.UpdatedBy,
		"created_at":       workflow.CreatedAt,
		"updated_at":       workflow.UpdatedAt,
		"deleted_at":       workflow.DeletedAt,
	}

	var stored models.Workflow

	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"id": workflow.ID, "version": expectedVersion},
		bson.M{"$set": set},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"_id": 0, "metrics": 1}),
	).Decode(&stored)
	if isNoDocuments(err) {
		return r.missOrConflict(ctx, "Update", workflow.ID, expectedVersion)
	}

	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	workflow.Version = expectedVersion + 1
	workflow.Metrics = stored.Metrics

	return nil
}

func (r *WorkflowRepository) missOrConflict(ctx context.Context, op, id string, expectedVersion int64) error {
	var stored struct {
		Version int64 `json:"version"`
	}

	found, err := findOne(ctx, r.col, bson.M{"id": id}, &stored)
	if err != nil {
		return persistence.NewWorkflowError(op, id, err)
	}

	if !found {
		return persistence.NewWorkflowError(op, id, persistence.ErrWorkflowNotFound)
	}

	return persistence.NewVersionConflict(op, id, expectedVersion, stored.Version)
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	result, err := r.col.DeleteOne(ctx, bson.M{"id": id, "version": expectedVersion})
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if result.DeletedCount == 0 {
		return r.missOrConflict(ctx, "Delete", id, expectedVersion)
	}

	return nil
}

func (r *WorkflowRepository) RecordExecution(ctx context.Context, id string, at time.Time) error {
	return r.updateMetrics(ctx, "RecordExecution", id, bson.M{
		"$inc": bson.M{"metrics.total_executions": 1},
		"$set": bson.M{"metrics.last_executed_at": at},
	})
}

// RecordCompletion uses an aggregation pipeline update so the running average
// is computed from the stored counters in a single atomic write.
func (r *WorkflowRepository) RecordCompletion(ctx context.Context, id string, seconds float64) error {
	completed := bson.M{"$ifNull": bson.A{"$metrics.completed_executions", 0}}
	average := bson.M{"$ifNull": bson.A{"$metrics.average_completion_time", 0}}

	return r.updateMetrics(ctx, "RecordCompletion", id, mongod.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "metrics.average_completion_time", Value: bson.M{
				"$divide": bson.A{
					bson.M{"$add": bson.A{bson.M{"$multiply": bson.A{average, completed}}, seconds}},
					bson.M{"$add": bson.A{completed, 1}},
				},
			}},
			{Key: "metrics.completed_executions", Value: bson.M{"$add": bson.A{completed, 1}}},
		}}},
	})
}

func (r *WorkflowRepository) updateMetrics(ctx context.Context, op, id string, update any) error {
	result, err := r.col.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return persistence.NewWorkflowError(op, id, err)
	}

	if result.MatchedCount == 0 {
		return persistence.NewWorkflowError(op, id, persistence.ErrWorkflowNotFound)
	}

	return nil
}
