package persistence

import (
	"fmt"
	"slices"

	"github.com/dukex/stepflow/pkg/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	SortAsc  = "asc"
	SortDesc = "desc"
)

// WorkflowSortFields lists the fields workflows can be sorted by.
var WorkflowSortFields = []string{"created_at", "updated_at", "title"}

// ExecutionSortFields lists the fields executions can be sorted by.
var ExecutionSortFields = []string{"started_at", "created_at", "completed_at", "status"}

// ListWorkflowsOptions filters and paginates workflow listings.
type ListWorkflowsOptions struct {
	OrganizationID string
	Status         *models.WorkflowStatus
	TriggerType    *models.TriggerType
	Search         string // case-insensitive match on title or description
	IncludeDeleted bool

	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

// WorkflowListResult is one page of workflows.
type WorkflowListResult struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

// ExecutionFilter selects executions of one workflow.
type ExecutionFilter struct {
	WorkflowID     string
	OrganizationID string
	Status         *models.ExecutionStatus
}

// ListExecutionsOptions filters, sorts and paginates execution listings.
type ListExecutionsOptions struct {
	ExecutionFilter

	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

// Normalize applies defaults and validates the sort parameters against the allowlist.
func (o *ListWorkflowsOptions) Normalize() error {
	limit, order, err := normalizePage(o.Limit, o.SortOrder)
	if err != nil {
		return err
	}

	o.Limit, o.SortOrder = limit, order

	if o.SortBy == "" {
		o.SortBy = "created_at"
	}

	if !slices.Contains(WorkflowSortFields, o.SortBy) {
		return fmt.Errorf("%w: sort field %q", ErrInvalidListOptions, o.SortBy)
	}

	if o.Offset < 0 {
		o.Offset = 0
	}

	return nil
}

// Normalize applies defaults and validates the sort parameters against the allowlist.
func (o *ListExecutionsOptions) Normalize() error {
	limit, order, err := normalizePage(o.Limit, o.SortOrder)
	if err != nil {
		return err
	}

	o.Limit, o.SortOrder = limit, order

	if o.SortBy == "" {
		o.SortBy = "started_at"
	}

	if !slices.Contains(ExecutionSortFields, o.SortBy) {
		return fmt.Errorf("%w: sort field %q", ErrInvalidListOptions, o.SortBy)
	}

	if o.Offset < 0 {
		o.Offset = 0
	}

	return nil
}

func normalizePage(limit int, order string) (int, string, error) {
	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}

	switch order {
	case "":
		order = SortDesc
	case SortAsc, SortDesc:
	default:
		return 0, "", fmt.Errorf("%w: sort order %q", ErrInvalidListOptions, order)
	}

	return limit, order, nil
}
