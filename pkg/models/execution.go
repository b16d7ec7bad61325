package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusInProgress ExecutionStatus = "in_progress"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailed     ExecutionStatus = "failed"
	ExecutionStatusCancelled  ExecutionStatus = "cancelled"
)

// ExecutionStatuses lists every valid execution status.
var ExecutionStatuses = []ExecutionStatus{
	ExecutionStatusPending,
	ExecutionStatusInProgress,
	ExecutionStatusCompleted,
	ExecutionStatusFailed,
	ExecutionStatusCancelled,
}

// IsValid reports whether the status is a known execution status.
func (s ExecutionStatus) IsValid() bool {
	return slices.Contains(ExecutionStatuses, s)
}

// IsTerminal reports whether no transition may leave the status.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending:    {ExecutionStatusInProgress},
	ExecutionStatusInProgress: {ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	return slices.Contains(executionTransitions[s], next)
}

// ErrIllegalTransition is returned when an execution status change violates the state machine.
var ErrIllegalTransition = errors.New("illegal execution status transition")

// StepExecutionStatus is the outcome of a single step within an execution.
type StepExecutionStatus string

const (
	StepExecutionStatusPending   StepExecutionStatus = "pending"
	StepExecutionStatusCompleted StepExecutionStatus = "completed"
	StepExecutionStatusSkipped   StepExecutionStatus = "skipped"
	StepExecutionStatusFailed    StepExecutionStatus = "failed"
)

// IsValid reports whether the status is a known step execution status.
func (s StepExecutionStatus) IsValid() bool {
	switch s {
	case StepExecutionStatusPending, StepExecutionStatusCompleted, StepExecutionStatusSkipped, StepExecutionStatusFailed:
		return true
	default:
		return false
	}
}

// StepExecution records the progress of one step inside an execution.
type StepExecution struct {
	StepID      string              `json:"step_id"`
	Status      StepExecutionStatus `json:"status"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Response    map[string]any      `json:"response,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// ExecutionContext describes where an execution came from.
type ExecutionContext struct {
	Source     string         `json:"source,omitempty"`
	CustomData map[string]any `json:"custom_data,omitempty"`
	ExecutedBy string         `json:"executed_by,omitempty"`
}

// StepRef is the part of a step definition captured when an execution starts.
type StepRef struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Order int      `json:"order"`
	Type  StepType `json:"type"`
}

// SnapshotSteps captures the step references of a workflow at execution start.
func SnapshotSteps(steps Steps) []StepRef {
	refs := make([]StepRef, len(steps))
	for i, step := range steps {
		refs[i] = StepRef{ID: step.ID, Title: step.Label(), Order: step.Order, Type: step.Type}
	}

	return refs
}

// Execution is one run of a workflow against a single contact.
type Execution struct {
	ID             string           `json:"id"`
	WorkflowID     string           `json:"workflow_id"`
	OrganizationID string           `json:"organization_id"`
	ContactID      string           `json:"contact_id"`
	Status         ExecutionStatus  `json:"status"`
	CurrentStepID  string           `json:"current_step_id,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CompletionRate float64          `json:"completion_rate"`
	StepExecutions []StepExecution  `json:"step_executions"`
	StepSnapshot   []StepRef        `json:"step_snapshot"`
	Context        ExecutionContext `json:"context"`
	StatusReason   string           `json:"status_reason,omitempty"`
	Version        int64            `json:"version"`
	CreatedBy      string           `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Transition moves the execution to next, enforcing the state machine.
func (e *Execution) Transition(next ExecutionStatus, at time.Time) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: execution %s cannot move from %s to %s", ErrIllegalTransition, e.ID, e.Status, next)
	}

	e.Status = next
	e.UpdatedAt = at

	if next == ExecutionStatusCompleted {
		e.CompletedAt = &at
		e.CompletionRate = 100
	}

	return nil
}

// FindStepExecution returns the entry recorded for stepID.
func (e *Execution) FindStepExecution(stepID string) (*StepExecution, bool) {
	for i := range e.StepExecutions {
		if e.StepExecutions[i].StepID == stepID {
			return &e.StepExecutions[i], true
		}
	}

	return nil, false
}

// InSnapshot reports whether stepID was part of the workflow when the execution started.
func (e *Execution) InSnapshot(stepID string) bool {
	return slices.ContainsFunc(e.StepSnapshot, func(ref StepRef) bool { return ref.ID == stepID })
}

// RecomputeCompletionRate sets CompletionRate from the completed snapshot steps,
// clamped to [0,100].
func (e *Execution) RecomputeCompletionRate() {
	if e.Status == ExecutionStatusCompleted {
		e.CompletionRate = 100

		return
	}

	if len(e.StepSnapshot) == 0 {
		e.CompletionRate = 0

		return
	}

	completed := 0

	for _, ref := range e.StepSnapshot {
		if se, ok := e.FindStepExecution(ref.ID); ok && se.Status == StepExecutionStatusCompleted {
			completed++
		}
	}

	e.CompletionRate = ClampPercent(100 * float64(completed) / float64(len(e.StepSnapshot)))
}

// ClampPercent bounds a percentage to [0,100].
func ClampPercent(v float64) float64 {
	return min(max(v, 0), 100)
}
