// Package models defines the core domain models for step-based business workflows.
package models

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Executable
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Temporarily not executable
	WorkflowStatusArchived WorkflowStatus = "archived" // Retired, kept for history
	WorkflowStatusDeleted  WorkflowStatus = "deleted"  // Soft-deleted
)

// WorkflowStatuses lists every valid workflow status.
var WorkflowStatuses = []WorkflowStatus{
	WorkflowStatusDraft,
	WorkflowStatusActive,
	WorkflowStatusPaused,
	WorkflowStatusArchived,
	WorkflowStatusDeleted,
}

// IsValid reports whether the status is one of the known workflow statuses.
func (s WorkflowStatus) IsValid() bool {
	return slices.Contains(WorkflowStatuses, s)
}

// statusTransitions holds the allowed explicit status changes. Deletion is not
// part of this table, it goes through the delete operation.
var statusTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusDraft:    {WorkflowStatusActive},
	WorkflowStatusActive:   {WorkflowStatusPaused, WorkflowStatusArchived},
	WorkflowStatusPaused:   {WorkflowStatusActive, WorkflowStatusArchived},
	WorkflowStatusArchived: {WorkflowStatusActive},
}

// CanChangeTo reports whether a workflow may move from s to next.
func (s WorkflowStatus) CanChangeTo(next WorkflowStatus) bool {
	return slices.Contains(statusTransitions[s], next)
}

// TriggerType describes how executions of a workflow are initiated.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeAPI      TriggerType = "api"
)

// ErrInvalidTrigger is returned when a trigger descriptor is malformed.
var ErrInvalidTrigger = errors.New("invalid trigger configuration")

// Trigger is the workflow trigger descriptor. Only the fields relevant to Type are used.
type Trigger struct {
	Type     TriggerType `json:"type"                validate:"required,oneof=manual event schedule api"`
	Event    string      `json:"event,omitempty"`    // event name, for event triggers
	Schedule string      `json:"schedule,omitempty"` // 5-field cron expression, for schedule triggers
	Timezone string      `json:"timezone,omitempty"`
	Endpoint string      `json:"endpoint,omitempty"` // path suffix, for api triggers
}

// Validate checks the type-specific trigger fields.
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerTypeManual, TriggerTypeAPI:
		return nil
	case TriggerTypeEvent:
		if t.Event == "" {
			return fmt.Errorf("%w: event trigger requires an event name", ErrInvalidTrigger)
		}

		return nil
	case TriggerTypeSchedule:
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(t.Schedule); err != nil {
			return fmt.Errorf("%w: schedule %q: %v", ErrInvalidTrigger, t.Schedule, err)
		}

		if t.Timezone != "" {
			if _, err := time.LoadLocation(t.Timezone); err != nil {
				return fmt.Errorf("%w: timezone %q: %v", ErrInvalidTrigger, t.Timezone, err)
			}
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, t.Type)
	}
}

// NotificationSettings toggles notifications sent by the external runner.
type NotificationSettings struct {
	OnStart    bool `json:"on_start"`
	OnComplete bool `json:"on_complete"`
	OnFailure  bool `json:"on_failure"`
}

// Settings holds per-workflow behaviour switches.
type Settings struct {
	AllowMultipleSubmissions bool                 `json:"allow_multiple_submissions"`
	RequireAuth              bool                 `json:"require_auth"`
	Notifications            NotificationSettings `json:"notifications"`
	AutoArchiveAfterDays     int                  `json:"auto_archive_after_days,omitempty"  validate:"min=0"`
	ReminderIntervalHours    int                  `json:"reminder_interval_hours,omitempty" validate:"min=0"`
}

// DefaultSettings returns the settings a new workflow starts with.
func DefaultSettings() Settings {
	return Settings{
		Notifications: NotificationSettings{OnComplete: true, OnFailure: true},
	}
}

// Metrics are denormalized execution counters kept on the workflow document.
type Metrics struct {
	TotalExecutions       int64      `json:"total_executions"`
	CompletedExecutions   int64      `json:"completed_executions"`
	AverageCompletionTime float64    `json:"average_completion_time"` // seconds
	LastExecutedAt        *time.Time `json:"last_executed_at,omitempty"`
}

// Workflow is an ordered sequence of steps executed against a contact.
type Workflow struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Title          string         `json:"title"            validate:"required,min=1"`
	Description    string         `json:"description"`
	Status         WorkflowStatus `json:"status"           validate:"required"`
	Trigger        Trigger        `json:"trigger"`
	Steps          Steps          `json:"steps"`
	Settings       Settings       `json:"settings"`
	Metrics        Metrics        `json:"metrics"`
	Version        int64          `json:"version"`
	TemplateID     string         `json:"template_id,omitempty"`
	RetiredStepIDs []string       `json:"retired_step_ids,omitempty"` // ids of deleted steps, never reassigned
	CreatedBy      string         `json:"created_by,omitempty"`
	UpdatedBy      string         `json:"updated_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the workflow has been soft-deleted.
func (w *Workflow) IsDeleted() bool {
	return w.DeletedAt != nil || w.Status == WorkflowStatusDeleted
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.Steps = w.Steps.Clone()
	c.RetiredStepIDs = slices.Clone(w.RetiredStepIDs)

	if w.Metrics.LastExecutedAt != nil {
		t := *w.Metrics.LastExecutedAt
		c.Metrics.LastExecutedAt = &t
	}

	if w.DeletedAt != nil {
		t := *w.DeletedAt
		c.DeletedAt = &t
	}

	return &c
}
