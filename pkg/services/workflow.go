package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/steps"
	"github.com/dukex/stepflow/pkg/storage"
	"github.com/dukex/stepflow/pkg/templates"
	"go.opentelemetry.io/otel/attribute"
)

type Workflow struct {
	base
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, opts ...Option) *Workflow {
	return &Workflow{base: newBase(persistence, "workflow_service", opts)}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Templates returns the template catalog, sorted by id. It is empty when no
// catalog is configured.
func (w *Workflow) Templates() []*templates.Template {
	if w.templates == nil {
		return nil
	}

	return w.templates.List()
}

type CreateWorkflowRequest struct {
	OrganizationID string `validate:"required"`
	ActorID        string
	Title          string `validate:"max=200"`
	Description    string `validate:"max=2000"`
	TemplateID     string
	Trigger        *models.Trigger
	Settings       *models.Settings
}

// Create stores a new draft workflow, seeded from a template when TemplateID is set.
func (w *Workflow) Create(ctx context.Context, req CreateWorkflowRequest) (*models.Workflow, error) {
	const op = "createWorkflow"

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.create",
		attribute.String(otelhelper.OrganizationIDKey, req.OrganizationID))
	defer span.End()

	workflow, err := w.buildWorkflow(op, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, workflow.ID))

	if err := w.persistence.WorkflowRepository().Create(ctx, workflow); err != nil {
		otelhelper.SetError(span, err)

		return nil, wrap(op, err)
	}

	w.logger.InfoContext(ctx, "Workflow created",
		"workflow_id", workflow.ID, "template_id", workflow.TemplateID, "steps", len(workflow.Steps))

	return workflow, nil
}

func (w *Workflow) buildWorkflow(op string, req CreateWorkflowRequest) (*models.Workflow, error) {
	if err := w.check(op, req); err != nil {
		return nil, err
	}

	now := w.clock()
	workflow := &models.Workflow{
		ID:             w.newID(),
		OrganizationID: req.OrganizationID,
		Title:          strings.TrimSpace(req.Title),
		Description:    req.Description,
		Status:         models.WorkflowStatusDraft,
		Trigger:        models.Trigger{Type: models.TriggerTypeManual},
		Steps:          models.Steps{},
		Settings:       models.DefaultSettings(),
		Version:        1,
		CreatedBy:      req.ActorID,
		UpdatedBy:      req.ActorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if req.TemplateID != "" {
		if err := w.applyTemplate(op, workflow, req.TemplateID); err != nil {
			return nil, err
		}
	}

	if req.Trigger != nil {
		workflow.Trigger = *req.Trigger
	}

	if req.Settings != nil {
		workflow.Settings = *req.Settings
	}

	if workflow.Title == "" {
		return nil, newError(op, ErrInvalidRequest, "title is required")
	}

	if err := w.checkDefinition(op, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (w *Workflow) applyTemplate(op string, workflow *models.Workflow, templateID string) error {
	var (
		tpl *templates.Template
		ok  bool
	)

	if w.templates != nil {
		tpl, ok = w.templates.Get(templateID)
	}

	if !ok {
		return newError(op, ErrTemplateNotFound, "template %s not found", templateID)
	}

	result, err := steps.Apply(nil, tpl.Actions(w.newID))
	if err != nil {
		return wrap(op, fmt.Errorf("template %s: %w", templateID, err))
	}

	workflow.TemplateID = tpl.ID
	workflow.Trigger = tpl.WorkflowTrigger()
	workflow.Settings = tpl.WorkflowSettings()
	workflow.Steps = result.Steps

	if workflow.Title == "" {
		workflow.Title = tpl.Title
	}

	if workflow.Description == "" {
		workflow.Description = tpl.Description
	}

	return nil
}

// checkDefinition validates the trigger and settings of a workflow about to be written.
func (w *Workflow) checkDefinition(op string, workflow *models.Workflow) error {
	if err := workflow.Trigger.Validate(); err != nil {
		return wrap(op, err)
	}

	if err := w.validate.Struct(workflow.Settings); err != nil {
		return newError(op, ErrInvalidRequest, "settings: %v", err)
	}

	return nil
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	OrganizationID string `validate:"required"`

	// Filtering
	Status      *models.WorkflowStatus
	TriggerType *models.TriggerType
	Search      string

	// Sorting
	SortBy    string
	SortOrder string

	// Pagination
	Limit  int `validate:"min=0"`
	Offset int `validate:"min=0"`
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}

// List returns non-deleted workflows of an organization.
func (w *Workflow) List(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	const op = "listWorkflows"

	if err := w.check(op, req); err != nil {
		return nil, err
	}

	if req.Status != nil && (!req.Status.IsValid() || *req.Status == models.WorkflowStatusDeleted) {
		return nil, newError(op, ErrInvalidStatus, "invalid status '%s'", *req.Status)
	}

	if req.TriggerType != nil && !slices.Contains(
		[]models.TriggerType{models.TriggerTypeManual, models.TriggerTypeEvent, models.TriggerTypeSchedule, models.TriggerTypeAPI},
		*req.TriggerType,
	) {
		return nil, newError(op, ErrInvalidRequest, "invalid trigger type '%s'", *req.TriggerType)
	}

	opts := persistence.ListWorkflowsOptions{
		OrganizationID: req.OrganizationID,
		Status:         req.Status,
		TriggerType:    req.TriggerType,
		Search:         strings.TrimSpace(req.Search),
		SortBy:         req.SortBy,
		SortOrder:      req.SortOrder,
		Limit:          req.Limit,
		Offset:         req.Offset,
	}

	if err := opts.Normalize(); err != nil {
		return nil, newError(op, persistence.ErrInvalidListOptions,
			"%v, allowed sort fields: %s", err, strings.Join(persistence.WorkflowSortFields, ", "))
	}

	result, err := w.persistence.WorkflowRepository().ListWorkflows(ctx, opts)
	if err != nil {
		return nil, wrap(op, err)
	}

	workflows := result.Workflows
	if workflows == nil {
		workflows = []*models.Workflow{}
	}

	return &ListWorkflowsResponse{
		Workflows:   workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}, nil
}

// Get returns a non-deleted workflow of the organization.
func (w *Workflow) Get(ctx context.Context, id, organizationID string) (*models.Workflow, error) {
	return w.loadWorkflow(ctx, "getWorkflowById", id, organizationID)
}

// mutation describes a compare-and-swap write of one workflow document.
type mutation struct {
	op              string
	id              string
	organizationID  string
	actorID         string
	expectedVersion *int64
}

// mutate loads the workflow, applies fn to a deep copy and writes it back
// predicated on the version that was read.
func (w *Workflow) mutate(ctx context.Context, m mutation, fn func(*models.Workflow) error) (*models.Workflow, error) {
	stored, err := w.loadWorkflow(ctx, m.op, m.id, m.organizationID)
	if err != nil {
		return nil, err
	}

	if m.expectedVersion != nil && *m.expectedVersion != stored.Version {
		return nil, wrap(m.op, persistence.NewVersionConflict(m.op, m.id, *m.expectedVersion, stored.Version))
	}

	workflow := stored.Clone()
	if err := fn(workflow); err != nil {
		return nil, wrap(m.op, err)
	}

	workflow.UpdatedAt = w.clock()
	if m.actorID != "" {
		workflow.UpdatedBy = m.actorID
	}

	if err := w.persistence.WorkflowRepository().Update(ctx, workflow, stored.Version); err != nil {
		return nil, wrap(m.op, err)
	}

	return workflow, nil
}

type UpdateWorkflowRequest struct {
	ID              string `validate:"required"`
	OrganizationID  string `validate:"required"`
	ActorID         string
	ExpectedVersion *int64
	Title           *string `validate:"omitempty,max=200"`
	Description     *string `validate:"omitempty,max=2000"`
	Trigger         *models.Trigger
	Settings        *models.Settings
}

// Update changes the workflow definition fields. Steps have their own operations.
func (w *Workflow) Update(ctx context.Context, req UpdateWorkflowRequest) (*models.Workflow, error) {
	const op = "updateWorkflow"

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.update",
		attribute.String(otelhelper.WorkflowIDKey, req.ID))
	defer span.End()

	if err := w.check(op, req); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	m := mutation{op: op, id: req.ID, organizationID: req.OrganizationID, actorID: req.ActorID, expectedVersion: req.ExpectedVersion}

	workflow, err := w.mutate(ctx, m, func(wf *models.Workflow) error {
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return newError(op, ErrInvalidRequest, "title cannot be empty")
			}

			wf.Title = title
		}

		if req.Description != nil {
			wf.Description = *req.Description
		}

		if req.Trigger != nil {
			wf.Trigger = *req.Trigger
		}

		if req.Settings != nil {
			wf.Settings = *req.Settings
		}

		return w.checkDefinition(op, wf)
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	w.logger.InfoContext(ctx, "Workflow updated", "workflow_id", workflow.ID, "version", workflow.Version)

	return workflow, nil
}

type ChangeStatusRequest struct {
	ID              string `validate:"required"`
	OrganizationID  string `validate:"required"`
	ActorID         string
	ExpectedVersion *int64
	Status          models.WorkflowStatus `validate:"required"`
}

// ChangeStatus moves a workflow along draft -> active <-> paused -> archived.
// Deletion goes through Delete.
func (w *Workflow) ChangeStatus(ctx context.Context, req ChangeStatusRequest) (*models.Workflow, error) {
	const op = "changeStatus"

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.change_status",
		attribute.String(otelhelper.WorkflowIDKey, req.ID),
		attribute.String(otelhelper.WorkflowStatusKey, string(req.Status)))
	defer span.End()

	if err := w.check(op, req); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if !req.Status.IsValid() || req.Status == models.WorkflowStatusDeleted {
		err := newError(op, ErrInvalidStatus, "invalid status '%s'", req.Status)
		otelhelper.SetError(span, err)

		return nil, err
	}

	var from models.WorkflowStatus

	m := mutation{op: op, id: req.ID, organizationID: req.OrganizationID, actorID: req.ActorID, expectedVersion: req.ExpectedVersion}

	workflow, err := w.mutate(ctx, m, func(wf *models.Workflow) error {
		from = wf.Status

		if !wf.Status.CanChangeTo(req.Status) {
			return newError(op, ErrInvalidStatusChange, "workflow %s cannot move from %s to %s", wf.ID, wf.Status, req.Status)
		}

		if req.Status == models.WorkflowStatusActive && len(wf.Steps) == 0 {
			return newError(op, ErrInvalidStatusChange, "workflow %s has no steps and cannot be activated", wf.ID)
		}

		wf.Status = req.Status

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	w.publish(ctx, workflow.ID, events.WorkflowStatusChanged{
		BaseEvent: events.NewBaseEvent(events.WorkflowStatusChangedEvent, workflow.ID, workflow.OrganizationID),
		From:      from,
		To:        workflow.Status,
		ChangedBy: req.ActorID,
	})

	w.logger.InfoContext(ctx, "Workflow status changed", "workflow_id", workflow.ID, "from", from, "to", workflow.Status)

	return workflow, nil
}

type ApplyStepActionsRequest struct {
	WorkflowID      string `validate:"required"`
	OrganizationID  string `validate:"required"`
	ActorID         string
	ExpectedVersion *int64
	Actions         []steps.Action `validate:"min=1"`
}

type ApplyStepActionsResponse struct {
	Workflow *models.Workflow `json:"workflow"`
	Created  []string         `json:"created,omitempty"`
	Updated  []string         `json:"updated,omitempty"`
	Deleted  []string         `json:"deleted,omitempty"`
	Warnings []steps.Warning  `json:"warnings,omitempty"`
}

// ApplyStepActions applies a create/update/delete batch atomically. Deleted
// step ids are retired so they are never assigned again.
func (w *Workflow) ApplyStepActions(ctx context.Context, req ApplyStepActionsRequest) (*ApplyStepActionsResponse, error) {
	const op = "applyStepActions"

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.apply_step_actions",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.Int(otelhelper.ActionCountKey, len(req.Actions)))
	defer span.End()

	if err := w.check(op, req); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	var result *steps.ApplyResult

	m := mutation{op: op, id: req.WorkflowID, organizationID: req.OrganizationID, actorID: req.ActorID, expectedVersion: req.ExpectedVersion}

	workflow, err := w.mutate(ctx, m, func(wf *models.Workflow) error {
		var err error

		result, err = steps.Apply(wf.Steps, req.Actions,
			steps.WithRetiredIDs(wf.RetiredStepIDs),
			steps.WithIDGenerator(w.newID))
		if err != nil {
			return err
		}

		wf.Steps = result.Steps
		wf.RetiredStepIDs = append(wf.RetiredStepIDs, result.Deleted...)

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.Int(otelhelper.StepCountKey, len(workflow.Steps)))

	for _, warning := range result.Warnings {
		w.logger.WarnContext(ctx, "Step wiring warning",
			"workflow_id", workflow.ID, "step_id", warning.StepID, "target_id", warning.TargetID, "message", warning.Message)
	}

	w.publish(ctx, workflow.ID, events.WorkflowStepsChanged{
		BaseEvent: events.NewBaseEvent(events.WorkflowStepsChangedEvent, workflow.ID, workflow.OrganizationID),
		Version:   workflow.Version,
		Created:   result.Created,
		Updated:   result.Updated,
		Deleted:   result.Deleted,
	})
	w.invalidate(ctx, workflow.OrganizationID, workflow.ID)

	w.logger.InfoContext(ctx, "Step actions applied",
		"workflow_id", workflow.ID,
		"created", len(result.Created), "updated", len(result.Updated), "deleted", len(result.Deleted),
		"version", workflow.Version)

	return &ApplyStepActionsResponse{
		Workflow: workflow,
		Created:  result.Created,
		Updated:  result.Updated,
		Deleted:  result.Deleted,
		Warnings: result.Warnings,
	}, nil
}

type ReorderStepsRequest struct {
	WorkflowID      string `validate:"required"`
	OrganizationID  string `validate:"required"`
	ActorID         string
	ExpectedVersion *int64
	Instructions    []steps.Instruction `validate:"min=1"`
}

type ReorderStepsResponse struct {
	WorkflowID string          `json:"workflow_id"`
	Version    int64           `json:"version"`
	Steps      []steps.Summary `json:"steps"`
}

// ReorderSteps moves the named steps to their requested positions and renumbers
// every step densely.
func (w *Workflow) ReorderSteps(ctx context.Context, req ReorderStepsRequest) (*ReorderStepsResponse, error) {
	const op = "reorderSteps"

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.reorder_steps",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.Int(otelhelper.ActionCountKey, len(req.Instructions)))
	defer span.End()

	if err := w.check(op, req); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	var result *steps.ReorderResult

	m := mutation{op: op, id: req.WorkflowID, organizationID: req.OrganizationID, actorID: req.ActorID, expectedVersion: req.ExpectedVersion}

	workflow, err := w.mutate(ctx, m, func(wf *models.Workflow) error {
		var err error

		result, err = steps.Reorder(wf.Steps, req.Instructions)
		if err != nil {
			return err
		}

		wf.Steps = result.Steps

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	w.publish(ctx, workflow.ID, events.WorkflowStepsChanged{
		BaseEvent: events.NewBaseEvent(events.WorkflowStepsChangedEvent, workflow.ID, workflow.OrganizationID),
		Version:   workflow.Version,
	})
	w.invalidate(ctx, workflow.OrganizationID, workflow.ID)

	w.logger.InfoContext(ctx, "Steps reordered", "workflow_id", workflow.ID, "version", workflow.Version)

	return &ReorderStepsResponse{
		WorkflowID: workflow.ID,
		Version:    workflow.Version,
		Steps:      result.Summary,
	}, nil
}

type DeleteWorkflowRequest struct {
	ID              string `validate:"required"`
	OrganizationID  string `validate:"required"`
	ActorID         string
	ExpectedVersion *int64
}

// Delete removes a draft workflow and soft-deletes any other. The hard/soft
// path is chosen from the stored status before anything is written.
func (w *Workflow) Delete(ctx context.Context, req DeleteWorkflowRequest) error {
	const op = "deleteWorkflow"

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.delete",
		attribute.String(otelhelper.WorkflowIDKey, req.ID))
	defer span.End()

	err := w.delete(ctx, op, req)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (w *Workflow) delete(ctx context.Context, op string, req DeleteWorkflowRequest) error {
	if err := w.check(op, req); err != nil {
		return err
	}

	stored, err := w.findWorkflow(ctx, op, req.ID, req.OrganizationID)
	if err != nil {
		return err
	}

	if stored.IsDeleted() {
		return newError(op, ErrWorkflowDeleted, "workflow %s is already deleted", stored.ID)
	}

	if req.ExpectedVersion != nil && *req.ExpectedVersion != stored.Version {
		return wrap(op, persistence.NewVersionConflict(op, stored.ID, *req.ExpectedVersion, stored.Version))
	}

	hard := stored.Status == models.WorkflowStatusDraft

	portals, err := w.persistence.PortalRepository().ListActiveByWorkflow(ctx, stored.ID, stored.OrganizationID)
	if err != nil {
		return wrap(op, err)
	}

	if len(portals) > 0 {
		ids := make([]string, len(portals))
		for i, portal := range portals {
			ids[i] = portal.ID
		}

		return newError(op, ErrActivePortals, "workflow %s is referenced by active portals: %s", stored.ID, strings.Join(ids, ", "))
	}

	if hard {
		if err := w.persistence.WorkflowRepository().Delete(ctx, stored.ID, stored.Version); err != nil {
			return wrap(op, err)
		}
	} else {
		workflow := stored.Clone()
		now := w.clock()
		workflow.Status = models.WorkflowStatusDeleted
		workflow.DeletedAt = &now
		workflow.UpdatedAt = now

		if req.ActorID != "" {
			workflow.UpdatedBy = req.ActorID
		}

		if err := w.persistence.WorkflowRepository().Update(ctx, workflow, stored.Version); err != nil {
			return wrap(op, err)
		}
	}

	w.publish(ctx, stored.ID, events.WorkflowDeleted{
		BaseEvent: events.NewBaseEvent(events.WorkflowDeletedEvent, stored.ID, stored.OrganizationID),
		Hard:      hard,
		DeletedBy: req.ActorID,
	})
	w.invalidate(ctx, stored.OrganizationID, stored.ID)

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", stored.ID, "hard", hard, "previous_status", stored.Status)

	return nil
}

type DuplicateWorkflowRequest struct {
	ID             string `validate:"required"`
	OrganizationID string `validate:"required"`
	ActorID        string
	Title          string `validate:"max=200"`
	CopySteps      *bool
	CopySettings   *bool
}

// Duplicate creates a new draft from an existing workflow. Copied steps get new
// ids; nextSteps wiring is remapped onto them.
func (w *Workflow) Duplicate(ctx context.Context, req DuplicateWorkflowRequest) (*models.Workflow, error) {
	const op = "duplicateWorkflow"

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.duplicate",
		attribute.String(otelhelper.WorkflowIDKey, req.ID))
	defer span.End()

	if err := w.check(op, req); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	source, err := w.loadWorkflow(ctx, op, req.ID, req.OrganizationID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = source.Title + " (copy)"
	}

	now := w.clock()
	workflow := &models.Workflow{
		ID:             w.newID(),
		OrganizationID: source.OrganizationID,
		Title:          title,
		Description:    source.Description,
		Status:         models.WorkflowStatusDraft,
		Trigger:        source.Trigger,
		Steps:          models.Steps{},
		Settings:       models.DefaultSettings(),
		Version:        1,
		TemplateID:     source.TemplateID,
		CreatedBy:      req.ActorID,
		UpdatedBy:      req.ActorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if req.CopySteps == nil || *req.CopySteps {
		workflow.Steps = w.copySteps(source.Steps)
	}

	if req.CopySettings == nil || *req.CopySettings {
		workflow.Settings = source.Settings
	}

	if err := w.persistence.WorkflowRepository().Create(ctx, workflow); err != nil {
		otelhelper.SetError(span, err)

		return nil, wrap(op, err)
	}

	w.logger.InfoContext(ctx, "Workflow duplicated", "workflow_id", workflow.ID, "source_id", source.ID)

	return workflow, nil
}

func (w *Workflow) copySteps(source models.Steps) models.Steps {
	copied := source.Clone()
	ids := make(map[string]string, len(copied))

	for i := range copied {
		id := w.newID()
		ids[copied[i].ID] = id
		copied[i].ID = id
	}

	for i := range copied {
		for j, next := range copied[i].NextSteps {
			if id, ok := ids[next.StepID]; ok {
				copied[i].NextSteps[j].StepID = id
			}
		}
	}

	return copied
}

type IssueUploadURLRequest struct {
	WorkflowID     string `validate:"required"`
	OrganizationID string `validate:"required"`
	StepID         string `validate:"required"`
	FileName       string `validate:"required,max=255"`
	ContentType    string `validate:"max=255"`
}

// IssueStepUploadURL presigns an upload for a step that collects files.
func (w *Workflow) IssueStepUploadURL(ctx context.Context, req IssueUploadURLRequest) (*storage.UploadURL, error) {
	const op = "issueStepUploadURL"

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.issue_upload_url",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.String(otelhelper.StepIDKey, req.StepID))
	defer span.End()

	upload, err := w.issueUploadURL(ctx, op, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return upload, nil
}

func (w *Workflow) issueUploadURL(ctx context.Context, op string, req IssueUploadURLRequest) (*storage.UploadURL, error) {
	if err := w.check(op, req); err != nil {
		return nil, err
	}

	if w.presigner == nil {
		return nil, newError(op, ErrUploadsUnavailable, "file uploads are not configured")
	}

	workflow, err := w.loadWorkflow(ctx, op, req.WorkflowID, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	step, ok := workflow.Steps.Find(req.StepID)
	if !ok {
		return nil, newError(op, steps.ErrStepNotFound, "step %s not found in workflow %s", req.StepID, workflow.ID)
	}

	if !step.Type.AcceptsUploads() {
		return nil, newError(op, ErrUploadsNotSupported, "step %s is a %s step and does not accept uploads", step.ID, step.Type)
	}

	if doc := step.Config.Document; doc != nil && len(doc.AcceptedTypes) > 0 && !slices.Contains(doc.AcceptedTypes, req.ContentType) {
		return nil, newError(op, ErrInvalidRequest, "content type %q is not accepted by step %s", req.ContentType, step.ID)
	}

	key, err := storage.ObjectKey(workflow.OrganizationID, workflow.ID, step.ID, w.newID(), req.FileName)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidFileName) {
			return nil, newError(op, storage.ErrInvalidFileName, "invalid file name %q", req.FileName)
		}

		return nil, wrap(op, err)
	}

	upload, err := w.presigner.PresignUpload(ctx, key, req.ContentType, w.uploadTTL)
	if err != nil {
		return nil, wrap(op, err)
	}

	w.logger.DebugContext(ctx, "Upload URL issued", "workflow_id", workflow.ID, "step_id", step.ID, "key", key)

	return upload, nil
}
