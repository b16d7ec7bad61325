package models

import (
	"errors"
	"fmt"
	"slices"
)

// StepType identifies the kind of work a step represents.
type StepType string

const (
	StepTypeForm      StepType = "Form"
	StepTypeDocument  StepType = "Document"
	StepTypeDocuments StepType = "Documents"
	StepTypeScreen    StepType = "Screen"
	StepTypeApproval  StepType = "Approval"
	StepTypeEmail     StepType = "Email"
	StepTypeSms       StepType = "Sms"
	StepTypeWebhook   StepType = "Webhook"
	StepTypeCondition StepType = "Condition"
	StepTypeDelay     StepType = "Delay"
	StepTypeChecklist StepType = "Checklist"
)

// StepTypes lists every valid step type.
var StepTypes = []StepType{
	StepTypeForm, StepTypeDocument, StepTypeDocuments, StepTypeScreen, StepTypeApproval,
	StepTypeEmail, StepTypeSms, StepTypeWebhook, StepTypeCondition, StepTypeDelay, StepTypeChecklist,
}

// IsValid reports whether the type is a known step type.
func (t StepType) IsValid() bool {
	return slices.Contains(StepTypes, t)
}

// AcceptsUploads reports whether contacts upload files while completing the step.
func (t StepType) AcceptsUploads() bool {
	return t == StepTypeForm || t == StepTypeDocument || t == StepTypeDocuments
}

// ErrConfigMismatch is returned when a step carries configuration for another step type.
var ErrConfigMismatch = errors.New("step configuration does not match step type")

// FormField is a single input of a form step.
type FormField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

type FormConfig struct {
	Fields []FormField `json:"fields"`
}

// DocumentConfig serves both Document and Documents steps.
type DocumentConfig struct {
	TemplateID    string   `json:"template_id,omitempty"`
	AcceptedTypes []string `json:"accepted_types,omitempty"`
	MaxFiles      int      `json:"max_files,omitempty"`
}

type ScreenConfig struct {
	Content string `json:"content"`
}

type ApprovalConfig struct {
	Instructions      string `json:"instructions,omitempty"`
	RequiredApprovals int    `json:"required_approvals,omitempty"`
}

type EmailConfig struct {
	To          string   `json:"to,omitempty"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments,omitempty"`
}

type SmsConfig struct {
	To      string `json:"to,omitempty"`
	Message string `json:"message"`
}

type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type ConditionConfig struct {
	Expression string `json:"expression"`
}

type DelayConfig struct {
	DurationSeconds int64 `json:"duration_seconds"`
}

type ChecklistConfig struct {
	Items []string `json:"items"`
}

// StepConfig is a tagged union keyed by StepType: at most the variant matching
// the owning step's type is set.
type StepConfig struct {
	Form      *FormConfig      `json:"form,omitempty"`
	Document  *DocumentConfig  `json:"document,omitempty"`
	Screen    *ScreenConfig    `json:"screen,omitempty"`
	Approval  *ApprovalConfig  `json:"approval,omitempty"`
	Email     *EmailConfig     `json:"email,omitempty"`
	Sms       *SmsConfig       `json:"sms,omitempty"`
	Webhook   *WebhookConfig   `json:"webhook,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty"`
	Checklist *ChecklistConfig `json:"checklist,omitempty"`
}

// ConfigKey returns the StepConfig field name used by the given step type.
func ConfigKey(t StepType) string {
	switch t {
	case StepTypeForm:
		return "form"
	case StepTypeDocument, StepTypeDocuments:
		return "document"
	case StepTypeScreen:
		return "screen"
	case StepTypeApproval:
		return "approval"
	case StepTypeEmail:
		return "email"
	case StepTypeSms:
		return "sms"
	case StepTypeWebhook:
		return "webhook"
	case StepTypeCondition:
		return "condition"
	case StepTypeDelay:
		return "delay"
	case StepTypeChecklist:
		return "checklist"
	default:
		return ""
	}
}

// setVariants returns the keys of every variant that is set.
func (c StepConfig) setVariants() []string {
	var keys []string

	add := func(set bool, key string) {
		if set {
			keys = append(keys, key)
		}
	}

	add(c.Form != nil, "form")
	add(c.Document != nil, "document")
	add(c.Screen != nil, "screen")
	add(c.Approval != nil, "approval")
	add(c.Email != nil, "email")
	add(c.Sms != nil, "sms")
	add(c.Webhook != nil, "webhook")
	add(c.Condition != nil, "condition")
	add(c.Delay != nil, "delay")
	add(c.Checklist != nil, "checklist")

	return keys
}

// IsEmpty reports whether no variant is set.
func (c StepConfig) IsEmpty() bool {
	return len(c.setVariants()) == 0
}

// ValidateFor checks that only the variant belonging to t is set.
func (c StepConfig) ValidateFor(t StepType) error {
	want := ConfigKey(t)
	for _, key := range c.setVariants() {
		if key != want {
			return fmt.Errorf("%w: %s step carries %s configuration", ErrConfigMismatch, t, key)
		}
	}

	return nil
}

// Clone returns a deep copy of the configuration.
func (c StepConfig) Clone() StepConfig {
	out := c

	if c.Form != nil {
		f := FormConfig{Fields: make([]FormField, len(c.Form.Fields))}
		for i, field := range c.Form.Fields {
			field.Options = slices.Clone(field.Options)
			f.Fields[i] = field
		}

		out.Form = &f
	}

	if c.Document != nil {
		d := *c.Document
		d.AcceptedTypes = slices.Clone(d.AcceptedTypes)
		out.Document = &d
	}

	if c.Screen != nil {
		s := *c.Screen
		out.Screen = &s
	}

	if c.Approval != nil {
		a := *c.Approval
		out.Approval = &a
	}

	if c.Email != nil {
		e := *c.Email
		e.Attachments = slices.Clone(e.Attachments)
		out.Email = &e
	}

	if c.Sms != nil {
		s := *c.Sms
		out.Sms = &s
	}

	if c.Webhook != nil {
		w := *c.Webhook
		if c.Webhook.Headers != nil {
			w.Headers = make(map[string]string, len(c.Webhook.Headers))
			for k, v := range c.Webhook.Headers {
				w.Headers[k] = v
			}
		}

		out.Webhook = &w
	}

	if c.Condition != nil {
		cc := *c.Condition
		out.Condition = &cc
	}

	if c.Delay != nil {
		d := *c.Delay
		out.Delay = &d
	}

	if c.Checklist != nil {
		cl := ChecklistConfig{Items: slices.Clone(c.Checklist.Items)}
		out.Checklist = &cl
	}

	return out
}

// AssigneeType describes who is responsible for completing a step.
type AssigneeType string

const (
	AssigneeTypeUser    AssigneeType = "user"
	AssigneeTypeRole    AssigneeType = "role"
	AssigneeTypeContact AssigneeType = "contact"
	AssigneeTypeEmail   AssigneeType = "email"
)

type Assignee struct {
	Type  AssigneeType `json:"type"  validate:"required,oneof=user role contact email"`
	Value string       `json:"value"`
}

// NextStep is a successor reference, optionally guarded by a condition.
type NextStep struct {
	StepID    string `json:"step_id"`
	Condition string `json:"condition,omitempty"`
}

// Step is one unit of work within a workflow.
type Step struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	DisplayName string     `json:"display_name,omitempty"`
	Type        StepType   `json:"type"`
	Order       int        `json:"order"`
	Required    bool       `json:"required"`
	Config      StepConfig `json:"config"`
	Assignee    *Assignee  `json:"assignee,omitempty"`
	NextSteps   []NextStep `json:"next_steps,omitempty"`
}

// Label returns the name shown for the step, falling back to its position.
func (s *Step) Label() string {
	switch {
	case s.DisplayName != "":
		return s.DisplayName
	case s.Title != "":
		return s.Title
	default:
		return fmt.Sprintf("Step %d", s.Order)
	}
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	out.Config = s.Config.Clone()
	out.NextSteps = slices.Clone(s.NextSteps)

	if s.Assignee != nil {
		a := *s.Assignee
		out.Assignee = &a
	}

	return out
}

// Steps is an ordered step collection. Mutating helpers always work on copies.
type Steps []Step

// Clone returns a deep copy of the collection.
func (s Steps) Clone() Steps {
	if s == nil {
		return nil
	}

	out := make(Steps, len(s))
	for i, step := range s {
		out[i] = step.Clone()
	}

	return out
}

// IndexOf returns the position of the step with the given id, or -1.
func (s Steps) IndexOf(id string) int {
	return slices.IndexFunc(s, func(step Step) bool { return step.ID == id })
}

// Find returns the step with the given id.
func (s Steps) Find(id string) (*Step, bool) {
	i := s.IndexOf(id)
	if i < 0 {
		return nil, false
	}

	return &s[i], true
}

// IDs returns the step ids in collection order.
func (s Steps) IDs() []string {
	ids := make([]string, len(s))
	for i, step := range s {
		ids[i] = step.ID
	}

	return ids
}

// IsDense reports whether the order values form exactly 1..N.
func (s Steps) IsDense() bool {
	seen := make([]bool, len(s)+1)
	for _, step := range s {
		if step.Order < 1 || step.Order > len(s) || seen[step.Order] {
			return false
		}

		seen[step.Order] = true
	}

	return true
}
