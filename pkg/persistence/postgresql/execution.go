package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

var executionSortColumns = map[string]string{
	"started_at":   "started_at",
	"created_at":   "created_at",
	"completed_at": "completed_at",
	"status":       "status",
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		document  []byte
		execution models.Execution
	)

	if err := row.Scan(&document, &execution.Version); err != nil {
		return nil, err
	}

	version := execution.Version

	if err := json.Unmarshal(document, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution document: %w", err)
	}

	execution.Version = version

	return &execution, nil
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	document, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, organization_id, contact_id, status, document, version,
			started_at, completed_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.OrganizationID,
		execution.ContactID,
		execution.Status,
		document,
		execution.Version,
		execution.StartedAt,
		execution.CompletedAt,
		execution.CreatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if inserted == 0 {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, "SELECT document, version FROM executions WHERE id = $1", id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan execution %s: %w", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution, expectedVersion int64) error {
	next := *execution
	next.Version = expectedVersion + 1

	document, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	query := `
		UPDATE executions SET
			status = $2
		  , document = $3
		  , version = $4
		  , completed_at = $5
		WHERE id = $1 AND version = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Status,
		document,
		next.Version,
		execution.CompletedAt,
		expectedVersion,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if updated == 0 {
		var exists bool

		err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)", execution.ID).Scan(&exists)
		if err != nil {
			return persistence.NewExecutionError("Update", execution.ID, err)
		}

		if !exists {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
	}

	execution.Version = next.Version

	return nil
}

func executionWhere(filter persistence.ExecutionFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	add := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.WorkflowID != "" {
		add("workflow_id", filter.WorkflowID)
	}

	if filter.OrganizationID != "" {
		add("organization_id", filter.OrganizationID)
	}

	if filter.Status != nil {
		add("status", string(*filter.Status))
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (r *ExecutionRepository) ListExecutions(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	clause, args := executionWhere(opts.ExecutionFilter)

	query := fmt.Sprintf("SELECT document, version FROM executions%s ORDER BY %s %s NULLS LAST, id LIMIT %d OFFSET %d",
		clause, executionSortColumns[opts.SortBy], strings.ToUpper(opts.SortOrder), opts.Limit, opts.Offset)

	return r.query(ctx, query, args...)
}

func (r *ExecutionRepository) CountExecutions(ctx context.Context, filter persistence.ExecutionFilter) (int64, error) {
	clause, args := executionWhere(filter)

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions"+clause, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return total, nil
}

func (r *ExecutionRepository) FindByWorkflow(ctx context.Context, workflowID, organizationID string) ([]*models.Execution, error) {
	clause, args := executionWhere(persistence.ExecutionFilter{WorkflowID: workflowID, OrganizationID: organizationID})

	return r.query(ctx, "SELECT document, version FROM executions"+clause+" ORDER BY created_at", args...)
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}
