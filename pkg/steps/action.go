package steps

import "github.com/dukex/stepflow/pkg/models"

// ActionType selects what an Action does to the step collection.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Action is one entry of a step action batch. Pointer fields distinguish
// "not supplied" from a zero value so updates only touch what the caller sent.
type Action struct {
	Type        ActionType         `json:"type" validate:"required,oneof=create update delete"`
	ID          string             `json:"id,omitempty"`
	Title       *string            `json:"title,omitempty"`
	DisplayName *string            `json:"display_name,omitempty"`
	StepType    *models.StepType   `json:"step_type,omitempty"`
	Order       *int               `json:"order,omitempty"`
	Required    *bool              `json:"required,omitempty"`
	Config      map[string]any     `json:"config,omitempty"`
	Assignee    *models.Assignee   `json:"assignee,omitempty"`
	NextSteps   *[]models.NextStep `json:"next_steps,omitempty"`
}

// Warning flags a consistency issue that does not block the batch.
type Warning struct {
	StepID   string `json:"step_id"`
	TargetID string `json:"target_id,omitempty"`
	Message  string `json:"message"`
}

// ApplyResult is the outcome of a successful batch.
type ApplyResult struct {
	Steps    models.Steps `json:"steps"`
	Created  []string     `json:"created,omitempty"`
	Updated  []string     `json:"updated,omitempty"`
	Deleted  []string     `json:"deleted,omitempty"`
	Warnings []Warning    `json:"warnings,omitempty"`
}

type applyOptions struct {
	retired map[string]struct{}
	newID   func() string
}

// ApplyOption customises Apply.
type ApplyOption func(*applyOptions)

// WithRetiredIDs rejects create actions that would reuse the given ids.
func WithRetiredIDs(ids []string) ApplyOption {
	return func(o *applyOptions) {
		for _, id := range ids {
			o.retired[id] = struct{}{}
		}
	}
}

// WithIDGenerator replaces the generator used for create actions without an id.
func WithIDGenerator(fn func() string) ApplyOption {
	return func(o *applyOptions) {
		o.newID = fn
	}
}
