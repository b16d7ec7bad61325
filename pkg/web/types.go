// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/steps"
	"github.com/dukex/stepflow/pkg/templates"
)

// CreateWorkflowRequest represents the request body for creating a new workflow.
// Title may be omitted when a template supplies one.
type CreateWorkflowRequest struct {
	Title       string           `json:"title"                 validate:"omitempty,max=200"`
	Description string           `json:"description,omitempty" validate:"max=2000"`
	TemplateID  string           `json:"template_id,omitempty"`
	Trigger     *models.Trigger  `json:"trigger,omitempty"`
	Settings    *models.Settings `json:"settings,omitempty"`
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Version     *int64           `json:"version,omitempty"`
	Title       *string          `json:"title,omitempty"       validate:"omitempty,min=1,max=200"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=2000"`
	Trigger     *models.Trigger  `json:"trigger,omitempty"`
	Settings    *models.Settings `json:"settings,omitempty"`
}

type ChangeStatusRequest struct {
	Status  string `json:"status"            validate:"required,oneof=draft active paused archived"`
	Version *int64 `json:"version,omitempty"`
}

type StepActionsRequest struct {
	Version *int64         `json:"version,omitempty"`
	Actions []steps.Action `json:"actions"           validate:"required,min=1,dive"`
}

type ReorderStepsRequest struct {
	Version      *int64              `json:"version,omitempty"`
	Instructions []steps.Instruction `json:"instructions"      validate:"required,min=1,dive"`
}

type DuplicateWorkflowRequest struct {
	Title        string `json:"title,omitempty"         validate:"max=200"`
	CopySteps    *bool  `json:"copy_steps,omitempty"`
	CopySettings *bool  `json:"copy_settings,omitempty"`
}

type UploadURLRequest struct {
	FileName    string `json:"file_name"    validate:"required,max=255"`
	ContentType string `json:"content_type" validate:"required,max=255"`
}

type StartExecutionRequest struct {
	ContactID  string         `json:"contact_id"            validate:"required"`
	Source     string         `json:"source,omitempty"      validate:"max=100"`
	CustomData map[string]any `json:"custom_data,omitempty"`
}

type TransitionExecutionRequest struct {
	Status  string `json:"status"            validate:"required,oneof=pending in_progress completed failed cancelled"`
	Reason  string `json:"reason,omitempty"  validate:"max=500"`
	Version *int64 `json:"version,omitempty"`
}

type RecordStepRequest struct {
	Status   string         `json:"status"             validate:"required,oneof=pending completed skipped failed"`
	Response map[string]any `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"    validate:"max=2000"`
	Version  *int64         `json:"version,omitempty"`
}

// TemplateStep is the public view of one template step.
type TemplateStep struct {
	Title string          `json:"title"`
	Type  models.StepType `json:"type"`
}

type TemplateResponse struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Trigger     models.TriggerType `json:"trigger"`
	Steps       []TemplateStep     `json:"steps"`
}

// TransformTemplateResponse hides template-local step keys and raw configuration.
func TransformTemplateResponse(tpl *templates.Template) TemplateResponse {
	response := TemplateResponse{
		ID:          tpl.ID,
		Title:       tpl.Title,
		Description: tpl.Description,
		Trigger:     tpl.WorkflowTrigger().Type,
		Steps:       make([]TemplateStep, len(tpl.Steps)),
	}

	for i, step := range tpl.Steps {
		title := step.DisplayName
		if title == "" {
			title = step.Title
		}

		response.Steps[i] = TemplateStep{Title: title, Type: step.Type}
	}

	return response
}
