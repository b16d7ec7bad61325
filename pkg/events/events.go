// Package events defines the messages published for the external execution runner
// and other subscribers of workflow lifecycle changes.
package events

import (
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every stepflow event; consumers filter on the event_type metadata.
const Topic = "stepflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events, consumed by the runner that advances executions.
	ExecutionStartedEvent       EventType = "execution.started"
	ExecutionStatusChangedEvent EventType = "execution.status_changed"
	ExecutionStepRecordedEvent  EventType = "execution.step_recorded"

	// Workflow definition events.
	WorkflowStatusChangedEvent EventType = "workflow.status_changed"
	WorkflowStepsChangedEvent  EventType = "workflow.steps_changed"
	WorkflowDeletedEvent       EventType = "workflow.deleted"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	WorkflowID     string         `json:"workflow_id"`
	OrganizationID string         `json:"organization_id"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ExecutionStarted tells the runner a new execution is waiting at its first step.
type ExecutionStarted struct {
	BaseEvent

	ExecutionID  string                  `json:"execution_id"`
	ContactID    string                  `json:"contact_id"`
	FirstStepID  string                  `json:"first_step_id,omitempty"`
	StepSnapshot []models.StepRef        `json:"step_snapshot"`
	Context      models.ExecutionContext `json:"context"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionStatusChanged struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	From        models.ExecutionStatus `json:"from"`
	To          models.ExecutionStatus `json:"to"`
	Reason      string                 `json:"reason,omitempty"`
}

func (e ExecutionStatusChanged) GetType() EventType {
	return ExecutionStatusChangedEvent
}

type ExecutionStepRecorded struct {
	BaseEvent

	ExecutionID    string                     `json:"execution_id"`
	StepID         string                     `json:"step_id"`
	Status         models.StepExecutionStatus `json:"status"`
	CompletionRate float64                    `json:"completion_rate"`
}

func (e ExecutionStepRecorded) GetType() EventType {
	return ExecutionStepRecordedEvent
}

type WorkflowStatusChanged struct {
	BaseEvent

	From      models.WorkflowStatus `json:"from"`
	To        models.WorkflowStatus `json:"to"`
	ChangedBy string                `json:"changed_by,omitempty"`
}

func (e WorkflowStatusChanged) GetType() EventType {
	return WorkflowStatusChangedEvent
}

// WorkflowStepsChanged is published after a step batch or a reorder.
type WorkflowStepsChanged struct {
	BaseEvent

	Version int64    `json:"version"`
	Created []string `json:"created,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Deleted []string `json:"deleted,omitempty"`
}

func (e WorkflowStepsChanged) GetType() EventType {
	return WorkflowStepsChangedEvent
}

type WorkflowDeleted struct {
	BaseEvent

	Hard      bool   `json:"hard"`
	DeletedBy string `json:"deleted_by,omitempty"`
}

func (e WorkflowDeleted) GetType() EventType {
	return WorkflowDeletedEvent
}

func NewBaseEvent(eventType EventType, workflowID, organizationID string) BaseEvent {
	return BaseEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		WorkflowID:     workflowID,
		OrganizationID: organizationID,
		Metadata:       make(map[string]any),
	}
}
