// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/google/uuid"
)

// OrganizationID is the organization every builder defaults to.
const OrganizationID = "org-test"

// CreateTestStep creates a Screen step with default values that can be overridden.
func CreateTestStep(order int, overrides ...func(*models.Step)) models.Step {
	step := models.Step{
		ID:       fmt.Sprintf("step-%d", order),
		Title:    fmt.Sprintf("Test Step %d", order),
		Type:     models.StepTypeScreen,
		Order:    order,
		Required: true,
		Config: models.StepConfig{
			Screen: &models.ScreenConfig{Content: "Welcome"},
		},
	}

	for _, override := range overrides {
		override(&step)
	}

	return step
}

// WithStepID sets the step ID.
func WithStepID(id string) func(*models.Step) {
	return func(s *models.Step) {
		s.ID = id
	}
}

// WithStepTitle sets the step title.
func WithStepTitle(title string) func(*models.Step) {
	return func(s *models.Step) {
		s.Title = title
	}
}

// WithDocumentStep turns the step into a Document step accepting the given MIME types.
func WithDocumentStep(acceptedTypes ...string) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeDocument
		s.Config = models.StepConfig{
			Document: &models.DocumentConfig{AcceptedTypes: acceptedTypes, MaxFiles: 1},
		}
	}
}

// CreateTestSteps creates n Screen steps ordered 1..n with ids step-1..step-n.
func CreateTestSteps(n int) models.Steps {
	steps := make(models.Steps, n)
	for i := range steps {
		steps[i] = CreateTestStep(i + 1)
	}

	return steps
}

// CreateTestWorkflow creates a draft workflow without steps.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	workflow := &models.Workflow{
		ID:             uuid.New().String(),
		OrganizationID: OrganizationID,
		Title:          "Test Workflow",
		Description:    "A workflow for testing",
		Status:         models.WorkflowStatusDraft,
		Trigger:        models.Trigger{Type: models.TriggerTypeManual},
		Steps:          models.Steps{},
		Settings:       models.DefaultSettings(),
		Version:        1,
		CreatedBy:      "user-test",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithWorkflowID sets the workflow ID.
func WithWorkflowID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithSteps replaces the workflow steps.
func WithSteps(steps models.Steps) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Steps = steps
	}
}

// WithMultipleSubmissions toggles AllowMultipleSubmissions.
func WithMultipleSubmissions(allow bool) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Settings.AllowMultipleSubmissions = allow
	}
}

// CreateTestContact creates a live contact of the test organization.
func CreateTestContact(id, name string) *models.Contact {
	return &models.Contact{
		ID:             id,
		OrganizationID: OrganizationID,
		Name:           name,
		Email:          id + "@example.com",
	}
}

// CreateTestExecution creates a pending execution of workflow with a snapshot of its steps.
func CreateTestExecution(workflow *models.Workflow, contactID string, startedAt time.Time) *models.Execution {
	execution := &models.Execution{
		ID:             uuid.New().String(),
		WorkflowID:     workflow.ID,
		OrganizationID: workflow.OrganizationID,
		ContactID:      contactID,
		Status:         models.ExecutionStatusPending,
		StartedAt:      startedAt,
		StepExecutions: []models.StepExecution{},
		StepSnapshot:   models.SnapshotSteps(workflow.Steps),
		Version:        1,
		CreatedAt:      startedAt,
		UpdatedAt:      startedAt,
	}

	if len(workflow.Steps) > 0 {
		execution.CurrentStepID = workflow.Steps[0].ID
	}

	return execution
}

// Sequence returns an id generator yielding prefix-1, prefix-2, ...
func Sequence(prefix string) func() string {
	n := 0

	return func() string {
		n++

		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// FixedClock is a settable clock for services built WithClock(clock.Now).
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time {
	return c.T
}

func (c *FixedClock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
