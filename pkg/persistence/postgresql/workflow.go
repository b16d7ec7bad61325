package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	document
  , version
  , total_executions
  , completed_executions
  , average_completion_time
  , last_executed_at`

// workflowSortColumns maps allowed sort fields to columns.
var workflowSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"title":      "title",
}

// encodeWorkflow returns the JSONB document. Metrics are kept in columns.
func encodeWorkflow(workflow *models.Workflow) ([]byte, error) {
	doc := *workflow
	doc.Metrics = models.Metrics{}

	data, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	return data, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		document []byte
		workflow models.Workflow
		lastAt   sql.NullTime
	)

	err := row.Scan(
		&document,
		&workflow.Version,
		&workflow.Metrics.TotalExecutions,
		&workflow.Metrics.CompletedExecutions,
		&workflow.Metrics.AverageCompletionTime,
		&lastAt,
	)
	if err != nil {
		return nil, err
	}

	version, metrics := workflow.Version, workflow.Metrics

	if err := json.Unmarshal(document, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow document: %w", err)
	}

	workflow.Version = version
	workflow.Metrics = metrics

	if lastAt.Valid {
		t := lastAt.Time.UTC()
		workflow.Metrics.LastExecutedAt = &t
	}

	return &workflow, nil
}

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	document, err := encodeWorkflow(workflow)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflows (
			id, organization_id, title, description, status, trigger_type, document, version,
			total_executions, completed_executions, average_completion_time, last_executed_at,
			created_at, updated_at, deleted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.OrganizationID,
		workflow.Title,
		workflow.Description,
		workflow.Status,
		workflow.Trigger.Type,
		document,
		workflow.Version,
		workflow.Metrics.TotalExecutions,
		workflow.Metrics.CompletedExecutions,
		workflow.Metrics.AverageCompletionTime,
		workflow.Metrics.LastExecutedAt,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if inserted == 0 {
		return persistence.NewWorkflowError("Create", workflow.ID, persistence.ErrWorkflowAlreadyExists)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+workflowColumns+" FROM workflows WHERE id = $1", id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow %s: %w", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	var (
		conditions []string
		args       []any
	)

	where := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if opts.OrganizationID != "" {
		where("organization_id = $%d", opts.OrganizationID)
	}

	if !opts.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL", "status <> 'deleted'")
	}

	if opts.Status != nil {
		where("status = $%d", string(*opts.Status))
	}

	if opts.TriggerType != nil {
		where("trigger_type = $%d", string(*opts.TriggerType))
	}

	if opts.Search != "" {
		where("(title ILIKE $%[1]d OR description ILIKE $%[1]d)", "%"+escapeLike(opts.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows"+clause, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	query := fmt.Sprintf("SELECT%s FROM workflows%s ORDER BY %s %s, id LIMIT %d OFFSET %d",
		workflowColumns, clause, workflowSortColumns[opts.SortBy], strings.ToUpper(opts.SortOrder), opts.Limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return &persistence.WorkflowListResult{
		Workflows:   workflows,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(workflows)) < total,
	}, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.Workflow, expectedVersion int64) error {
	next := *workflow
	next.Version = expectedVersion + 1

	document, err := encodeWorkflow(&next)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflows SET
			organization_id = $2
		  , title = $3
		  , description = $4
		  , status = $5
		  , trigger_type = $6
		  , document = $7
		  , version = $8
		  , updated_at = $9
		  , deleted_at = $10
		WHERE id = $1 AND version = $11
		RETURNING total_executions, completed_executions, average_completion_time, last_executed_at
	`

	var lastAt sql.NullTime

	err = r.db.QueryRowContext(ctx, query,
		workflow.ID,
		workflow.OrganizationID,
		workflow.Title,
		workflow.Description,
		workflow.Status,
		workflow.Trigger.Type,
		document,
		next.Version,
		workflow.UpdatedAt,
		workflow.DeletedAt,
		expectedVersion,
	).Scan(
		&next.Metrics.TotalExecutions,
		&next.Metrics.CompletedExecutions,
		&next.Metrics.AverageCompletionTime,
		&lastAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return r.missOrConflict(ctx, "Update", workflow.ID, expectedVersion)
	}

	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	next.Metrics.LastExecutedAt = nil
	if lastAt.Valid {
		t := lastAt.Time.UTC()
		next.Metrics.LastExecutedAt = &t
	}

	*workflow = next

	return nil
}

// missOrConflict tells a missing row from a version mismatch after a predicated write matched nothing.
func (r *WorkflowRepository) missOrConflict(ctx context.Context, op, id string, expectedVersion int64) error {
	var stored int64

	err := r.db.QueryRowContext(ctx, "SELECT version FROM workflows WHERE id = $1", id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewWorkflowError(op, id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return persistence.NewWorkflowError(op, id, err)
	}

	return persistence.NewVersionConflict(op, id, expectedVersion, stored)
}

// Delete removes the workflow row.
func (r *WorkflowRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1 AND version = $2", id, expectedVersion)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if deleted == 0 {
		return r.missOrConflict(ctx, "Delete", id, expectedVersion)
	}

	return nil
}

func (r *WorkflowRepository) RecordExecution(ctx context.Context, id string, at time.Time) error {
	return r.execMetrics(ctx, "RecordExecution", id, `
		UPDATE workflows SET
			total_executions = total_executions + 1
		  , last_executed_at = $2
		WHERE id = $1
	`, at)
}

func (r *WorkflowRepository) RecordCompletion(ctx context.Context, id string, seconds float64) error {
	return r.execMetrics(ctx, "RecordCompletion", id, `
		UPDATE workflows SET
			average_completion_time = (average_completion_time * completed_executions + $2) / (completed_executions + 1)
		  , completed_executions = completed_executions + 1
		WHERE id = $1
	`, seconds)
}

func (r *WorkflowRepository) execMetrics(ctx context.Context, op, id, query string, arg any) error {
	result, err := r.db.ExecContext(ctx, query, id, arg)
	if err != nil {
		return persistence.NewWorkflowError(op, id, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if updated == 0 {
		return persistence.NewWorkflowError(op, id, persistence.ErrWorkflowNotFound)
	}

	return nil
}
