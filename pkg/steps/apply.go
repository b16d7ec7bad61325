package steps

import (
	"fmt"
	"slices"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/google/uuid"
)

// Apply runs the actions in order against a copy of existing and returns the
// resulting collection with dense order values. The batch is atomic: the first
// failing action aborts it and existing is left untouched.
func Apply(existing models.Steps, actions []Action, opts ...ApplyOption) (*ApplyResult, error) {
	options := &applyOptions{
		retired: make(map[string]struct{}),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(options)
	}

	b := &batch{
		steps:       existing.Clone(),
		defaultPos:  len(existing) + 1,
		pinned:      make(map[string]int),
		typeChanged: make(map[string]models.StepType),
		options:     options,
		result:      &ApplyResult{},
	}

	for i, action := range actions {
		var err error

		switch action.Type {
		case ActionCreate:
			err = b.create(i, action)
		case ActionUpdate:
			err = b.update(i, action)
		case ActionDelete:
			err = b.delete(i, action)
		default:
			err = &StepError{
				Op:      "apply",
				Index:   i,
				StepID:  action.ID,
				Message: fmt.Sprintf("unknown action type %q", action.Type),
				Err:     ErrInvalidAction,
			}
		}

		if err != nil {
			return nil, err
		}
	}

	b.result.Steps = place(b.steps, b.pinned)
	b.result.Warnings = append(b.typeChangeWarnings(), DanglingNextSteps(b.result.Steps)...)

	return b.result, nil
}

// DanglingNextSteps reports every nextSteps entry whose target is not a live step id.
func DanglingNextSteps(steps models.Steps) []Warning {
	live := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		live[step.ID] = struct{}{}
	}

	var warnings []Warning

	for _, step := range steps {
		for _, next := range step.NextSteps {
			if _, ok := live[next.StepID]; !ok {
				warnings = append(warnings, Warning{
					StepID:   step.ID,
					TargetID: next.StepID,
					Message:  fmt.Sprintf("step %s points at unknown step %s", step.ID, next.StepID),
				})
			}
		}
	}

	return warnings
}

type batch struct {
	steps       models.Steps
	defaultPos  int
	pinned      map[string]int
	typeChanged map[string]models.StepType // step id -> previous type
	options     *applyOptions
	result      *ApplyResult
}

func (b *batch) fail(i int, id string, err error, format string, args ...any) error {
	return &StepError{Op: "apply", Index: i, StepID: id, Message: fmt.Sprintf(format, args...), Err: err}
}

func (b *batch) idTaken(id string) bool {
	if _, retired := b.options.retired[id]; retired {
		return true
	}

	return b.steps.IndexOf(id) >= 0 || slices.Contains(b.result.Deleted, id)
}

func (b *batch) create(i int, a Action) error {
	if a.Title == nil || *a.Title == "" {
		return b.fail(i, a.ID, ErrMissingField, "title is required")
	}

	if a.StepType == nil {
		return b.fail(i, a.ID, ErrMissingField, "step_type is required")
	}

	if !a.StepType.IsValid() {
		return b.fail(i, a.ID, ErrInvalidAction, "unknown step type %q", *a.StepType)
	}

	id := a.ID
	if id == "" {
		id = b.options.newID()
	} else if b.idTaken(id) {
		return b.fail(i, id, ErrDuplicateStepID, "id %s is already in use or was used by a deleted step", id)
	}

	cfg, err := DecodeConfig(*a.StepType, a.Config)
	if err != nil {
		return b.fail(i, id, err, "config for %s step", *a.StepType)
	}

	step := models.Step{
		ID:       id,
		Title:    *a.Title,
		Type:     *a.StepType,
		Order:    b.defaultPos,
		Config:   cfg,
		Assignee: a.Assignee,
	}

	if a.DisplayName != nil {
		step.DisplayName = *a.DisplayName
	}

	if a.Required != nil {
		step.Required = *a.Required
	}

	if a.NextSteps != nil {
		step.NextSteps = slices.Clone(*a.NextSteps)
	}

	if a.Order != nil {
		if *a.Order < 1 {
			return b.fail(i, id, ErrInvalidAction, "order must be a positive integer, got %d", *a.Order)
		}

		b.pinned[id] = *a.Order
		step.Order = *a.Order
	}

	b.steps = append(b.steps, step.Clone())
	b.result.Created = append(b.result.Created, id)

	return nil
}

func (b *batch) update(i int, a Action) error {
	if a.ID == "" {
		return b.fail(i, "", ErrStepNotFound, "update requires an id")
	}

	idx := b.steps.IndexOf(a.ID)
	if idx < 0 {
		return b.fail(i, a.ID, ErrStepNotFound, "no step with id %s", a.ID)
	}

	if a.Order != nil {
		return b.fail(i, a.ID, ErrInvalidAction, "order cannot be changed by update, use reorder")
	}

	step := b.steps[idx].Clone()

	if a.Title != nil {
		if *a.Title == "" {
			return b.fail(i, a.ID, ErrMissingField, "title cannot be empty")
		}

		step.Title = *a.Title
		step.DisplayName = *a.Title
	}

	if a.DisplayName != nil {
		step.DisplayName = *a.DisplayName
	}

	if a.StepType != nil && *a.StepType != step.Type {
		if !a.StepType.IsValid() {
			return b.fail(i, a.ID, ErrInvalidAction, "unknown step type %q", *a.StepType)
		}

		if a.Config == nil && models.ConfigKey(*a.StepType) != models.ConfigKey(step.Type) && !step.Config.IsEmpty() {
			return b.fail(i, a.ID, ErrInvalidStepConfig,
				"changing type from %s to %s requires a config for the new type", step.Type, *a.StepType)
		}

		if _, seen := b.typeChanged[step.ID]; !seen {
			b.typeChanged[step.ID] = step.Type
		}

		step.Type = *a.StepType
	}

	if a.Config != nil {
		cfg, err := DecodeConfig(step.Type, a.Config)
		if err != nil {
			return b.fail(i, a.ID, err, "config for %s step", step.Type)
		}

		step.Config = cfg
	}

	if a.Required != nil {
		step.Required = *a.Required
	}

	if a.Assignee != nil {
		assignee := *a.Assignee
		step.Assignee = &assignee
	}

	if a.NextSteps != nil {
		step.NextSteps = slices.Clone(*a.NextSteps)
	}

	b.steps[idx] = step

	if !slices.Contains(b.result.Updated, step.ID) && !slices.Contains(b.result.Created, step.ID) {
		b.result.Updated = append(b.result.Updated, step.ID)
	}

	return nil
}

func (b *batch) delete(i int, a Action) error {
	if a.ID == "" {
		return b.fail(i, "", ErrStepNotFound, "delete requires an id")
	}

	idx := b.steps.IndexOf(a.ID)
	if idx < 0 {
		return b.fail(i, a.ID, ErrStepNotFound, "no step with id %s", a.ID)
	}

	b.steps = slices.Delete(b.steps, idx, idx+1)

	for j := range b.steps {
		b.steps[j].NextSteps = slices.DeleteFunc(b.steps[j].NextSteps, func(n models.NextStep) bool {
			return n.StepID == a.ID
		})
	}

	delete(b.pinned, a.ID)
	delete(b.typeChanged, a.ID)

	b.result.Updated = slices.DeleteFunc(b.result.Updated, func(id string) bool { return id == a.ID })

	if created := slices.Index(b.result.Created, a.ID); created >= 0 {
		b.result.Created = slices.Delete(b.result.Created, created, created+1)
	}

	b.result.Deleted = append(b.result.Deleted, a.ID)

	return nil
}

func (b *batch) typeChangeWarnings() []Warning {
	var warnings []Warning

	for _, step := range b.steps {
		from, changed := b.typeChanged[step.ID]
		if !changed || step.Type == from || len(step.NextSteps) == 0 {
			continue
		}

		warnings = append(warnings, Warning{
			StepID:  step.ID,
			Message: fmt.Sprintf("step %s changed type from %s to %s, review its next_steps conditions", step.ID, from, step.Type),
		})
	}

	return warnings
}
