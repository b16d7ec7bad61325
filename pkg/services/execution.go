package services

import (
	"context"
	"errors"
	"sort"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// Execution owns the execution record contract. Advancing executions through
// their steps is left to an external runner that calls Transition and RecordStep.
type Execution struct {
	base
}

func NewExecution(persistence persistence.Persistence, opts ...Option) *Execution {
	return &Execution{base: newBase(persistence, "execution_service", opts)}
}

type StartExecutionRequest struct {
	WorkflowID     string `validate:"required"`
	OrganizationID string `validate:"required"`
	ContactID      string `validate:"required"`
	ActorID        string
	Source         string `validate:"max=100"`
	CustomData     map[string]any
}

// Start creates a pending execution of an active workflow for a live contact.
func (s *Execution) Start(ctx context.Context, req StartExecutionRequest) (*models.Execution, error) {
	const op = "startExecution"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "execution.start",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.String(otelhelper.ContactIDKey, req.ContactID))
	defer span.End()

	execution, err := s.start(ctx, op, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	return execution, nil
}

func (s *Execution) start(ctx context.Context, op string, req StartExecutionRequest) (*models.Execution, error) {
	if err := s.check(op, req); err != nil {
		return nil, err
	}

	workflow, err := s.findWorkflow(ctx, op, req.WorkflowID, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	if workflow.IsDeleted() || workflow.Status != models.WorkflowStatusActive {
		return nil, newError(op, ErrWorkflowNotActive, "workflow %s is %s, executions need an active workflow", workflow.ID, workflow.Status)
	}

	contact, err := s.persistence.ContactRepository().Get(ctx, req.ContactID, req.OrganizationID)
	if err != nil && !errors.Is(err, persistence.ErrInvalidID) {
		return nil, wrap(op, err)
	}

	if contact == nil || contact.IsDeleted() {
		return nil, newError(op, ErrContactNotFound, "contact %s not found", req.ContactID)
	}

	if !workflow.Settings.AllowMultipleSubmissions {
		if err := s.checkSingleSubmission(ctx, op, workflow, contact.ID); err != nil {
			return nil, err
		}
	}

	ordered := workflow.Steps.Clone()
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	now := s.clock()
	execution := &models.Execution{
		ID:             s.newID(),
		WorkflowID:     workflow.ID,
		OrganizationID: workflow.OrganizationID,
		ContactID:      contact.ID,
		Status:         models.ExecutionStatusPending,
		StartedAt:      now,
		StepExecutions: []models.StepExecution{},
		StepSnapshot:   models.SnapshotSteps(ordered),
		Context: models.ExecutionContext{
			Source:     req.Source,
			CustomData: req.CustomData,
			ExecutedBy: req.ActorID,
		},
		Version:   1,
		CreatedBy: req.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if len(ordered) > 0 {
		execution.CurrentStepID = ordered[0].ID
	}

	if err := s.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		return nil, wrap(op, err)
	}

	// The counter is denormalized; a failed increment does not undo the execution.
	if err := s.persistence.WorkflowRepository().RecordExecution(ctx, workflow.ID, now); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record workflow execution metrics",
			"workflow_id", workflow.ID, "execution_id", execution.ID, "error", err)
	}

	s.publish(ctx, workflow.ID, events.ExecutionStarted{
		BaseEvent:    events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID, workflow.OrganizationID),
		ExecutionID:  execution.ID,
		ContactID:    execution.ContactID,
		FirstStepID:  execution.CurrentStepID,
		StepSnapshot: execution.StepSnapshot,
		Context:      execution.Context,
	})
	s.invalidate(ctx, workflow.OrganizationID, workflow.ID)

	s.logger.InfoContext(ctx, "Execution started",
		"workflow_id", workflow.ID, "execution_id", execution.ID, "contact_id", contact.ID)

	return execution, nil
}

// checkSingleSubmission rejects a second live or completed execution for the contact.
func (s *Execution) checkSingleSubmission(ctx context.Context, op string, workflow *models.Workflow, contactID string) error {
	existing, err := s.persistence.ExecutionRepository().FindByWorkflow(ctx, workflow.ID, workflow.OrganizationID)
	if err != nil {
		return wrap(op, err)
	}

	for _, e := range existing {
		if e.ContactID != contactID {
			continue
		}

		if e.Status == models.ExecutionStatusFailed || e.Status == models.ExecutionStatusCancelled {
			continue
		}

		return newError(op, ErrDuplicateSubmission,
			"contact %s already has execution %s of workflow %s", contactID, e.ID, workflow.ID)
	}

	return nil
}

type ListExecutionsRequest struct {
	WorkflowID     string `validate:"required"`
	OrganizationID string `validate:"required"`
	Status         *models.ExecutionStatus
	SortBy         string
	SortOrder      string
	Limit          int `validate:"min=0"`
	Offset         int `validate:"min=0"`
}

// ExecutionView is an execution with its reference names resolved.
type ExecutionView struct {
	*models.Execution

	ContactName    string `json:"contact_name,omitempty"`
	ExecutedByName string `json:"executed_by_name,omitempty"`
}

type ListExecutionsResponse struct {
	Executions  []ExecutionView `json:"executions"`
	TotalCount  int64           `json:"total_count"`
	HasNextPage bool            `json:"has_next_page"`
	Limit       int             `json:"limit"`
	Offset      int             `json:"offset"`
}

// List pages through the executions of a workflow. The total is counted with a
// separate query and may drift from the page under concurrent writes.
func (s *Execution) List(ctx context.Context, req ListExecutionsRequest) (*ListExecutionsResponse, error) {
	const op = "listExecutions"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "execution.list",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID))
	defer span.End()

	resp, err := s.list(ctx, op, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return resp, nil
}

func (s *Execution) list(ctx context.Context, op string, req ListExecutionsRequest) (*ListExecutionsResponse, error) {
	if err := s.check(op, req); err != nil {
		return nil, err
	}

	if req.Status != nil && !req.Status.IsValid() {
		return nil, newError(op, ErrInvalidStatus, "invalid execution status '%s'", *req.Status)
	}

	if _, err := s.loadWorkflow(ctx, op, req.WorkflowID, req.OrganizationID); err != nil {
		return nil, err
	}

	opts := persistence.ListExecutionsOptions{
		ExecutionFilter: persistence.ExecutionFilter{
			WorkflowID:     req.WorkflowID,
			OrganizationID: req.OrganizationID,
			Status:         req.Status,
		},
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
		Limit:     req.Limit,
		Offset:    req.Offset,
	}

	if err := opts.Normalize(); err != nil {
		return nil, wrap(op, err)
	}

	repo := s.persistence.ExecutionRepository()

	executions, err := repo.ListExecutions(ctx, opts)
	if err != nil {
		return nil, wrap(op, err)
	}

	total, err := repo.CountExecutions(ctx, opts.ExecutionFilter)
	if err != nil {
		return nil, wrap(op, err)
	}

	views, err := s.resolveNames(ctx, op, executions)
	if err != nil {
		return nil, err
	}

	return &ListExecutionsResponse{
		Executions:  views,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(executions)) < total,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}, nil
}

// resolveNames looks every distinct contact and actor up once. Missing
// references leave the name empty.
func (s *Execution) resolveNames(ctx context.Context, op string, executions []*models.Execution) ([]ExecutionView, error) {
	contacts := make(map[string]string)
	users := make(map[string]string)
	views := make([]ExecutionView, 0, len(executions))

	for _, e := range executions {
		view := ExecutionView{Execution: e}

		if e.ContactID != "" {
			name, seen := contacts[e.ContactID]
			if !seen {
				contact, err := s.persistence.ContactRepository().Get(ctx, e.ContactID, e.OrganizationID)
				if err != nil && !errors.Is(err, persistence.ErrInvalidID) {
					return nil, wrap(op, err)
				}

				if contact != nil {
					name = contact.Name
				}

				contacts[e.ContactID] = name
			}

			view.ContactName = name
		}

		if actor := e.Context.ExecutedBy; actor != "" {
			name, seen := users[actor]
			if !seen {
				user, err := s.persistence.UserRepository().Get(ctx, actor)
				if err != nil && !errors.Is(err, persistence.ErrInvalidID) {
					return nil, wrap(op, err)
				}

				if user != nil {
					name = user.Name
				}

				users[actor] = name
			}

			view.ExecutedByName = name
		}

		views = append(views, view)
	}

	return views, nil
}

// Get returns an execution of the organization.
func (s *Execution) Get(ctx context.Context, id, organizationID string) (*models.Execution, error) {
	return s.load(ctx, "getExecution", id, organizationID)
}

func (s *Execution) load(ctx context.Context, op, id, organizationID string) (*models.Execution, error) {
	execution, err := s.persistence.ExecutionRepository().GetByID(ctx, id)
	if err != nil && !errors.Is(err, persistence.ErrInvalidID) {
		return nil, wrap(op, err)
	}

	if execution == nil || execution.OrganizationID != organizationID {
		return nil, newError(op, ErrExecutionNotFound, "execution %s not found", id)
	}

	return execution, nil
}

type TransitionRequest struct {
	ID              string `validate:"required"`
	OrganizationID  string `validate:"required"`
	ActorID         string
	ExpectedVersion *int64
	Status          models.ExecutionStatus `validate:"required"`
	Reason          string                 `validate:"max=500"`
}

// Transition moves an execution along pending -> in_progress -> completed |
// failed | cancelled. Completing it folds its duration into the workflow metrics.
func (s *Execution) Transition(ctx context.Context, req TransitionRequest) (*models.Execution, error) {
	const op = "transitionExecution"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "execution.transition",
		attribute.String(otelhelper.ExecutionIDKey, req.ID))
	defer span.End()

	execution, from, err := s.transition(ctx, op, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID))

	if execution.Status == models.ExecutionStatusCompleted && execution.CompletedAt != nil {
		seconds := execution.CompletedAt.Sub(execution.StartedAt).Seconds()
		if err := s.persistence.WorkflowRepository().RecordCompletion(ctx, execution.WorkflowID, seconds); err != nil {
			s.logger.ErrorContext(ctx, "Failed to record workflow completion metrics",
				"workflow_id", execution.WorkflowID, "execution_id", execution.ID, "error", err)
		}
	}

	s.publish(ctx, execution.WorkflowID, events.ExecutionStatusChanged{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStatusChangedEvent, execution.WorkflowID, execution.OrganizationID),
		ExecutionID: execution.ID,
		From:        from,
		To:          execution.Status,
		Reason:      execution.StatusReason,
	})
	s.invalidate(ctx, execution.OrganizationID, execution.WorkflowID)

	s.logger.InfoContext(ctx, "Execution status changed",
		"execution_id", execution.ID, "workflow_id", execution.WorkflowID, "from", from, "to", execution.Status)

	return execution, nil
}

func (s *Execution) transition(ctx context.Context, op string, req TransitionRequest) (*models.Execution, models.ExecutionStatus, error) {
	if err := s.check(op, req); err != nil {
		return nil, "", err
	}

	if !req.Status.IsValid() {
		return nil, "", newError(op, ErrInvalidStatus, "invalid execution status '%s'", req.Status)
	}

	execution, err := s.load(ctx, op, req.ID, req.OrganizationID)
	if err != nil {
		return nil, "", err
	}

	if req.ExpectedVersion != nil && *req.ExpectedVersion != execution.Version {
		return nil, "", newError(op, ErrVersionConflict,
			"execution %s: expected version %d, stored version %d", execution.ID, *req.ExpectedVersion, execution.Version)
	}

	from := execution.Status
	stored := execution.Version

	if err := execution.Transition(req.Status, s.clock()); err != nil {
		return nil, "", newError(op, ErrIllegalTransition, "execution %s cannot move from %s to %s", execution.ID, from, req.Status)
	}

	execution.StatusReason = req.Reason

	if err := s.persistence.ExecutionRepository().Update(ctx, execution, stored); err != nil {
		return nil, "", wrap(op, err)
	}

	return execution, from, nil
}

type RecordStepRequest struct {
	ExecutionID     string `validate:"required"`
	OrganizationID  string `validate:"required"`
	ExpectedVersion *int64
	StepID          string                     `validate:"required"`
	Status          models.StepExecutionStatus `validate:"required"`
	Response        map[string]any
	Error           string `validate:"max=2000"`
}

// RecordStep upserts the progress entry of one snapshot step, then recomputes the
// current step and the completion rate.
func (s *Execution) RecordStep(ctx context.Context, req RecordStepRequest) (*models.Execution, error) {
	const op = "recordStep"

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "execution.record_step",
		attribute.String(otelhelper.ExecutionIDKey, req.ExecutionID),
		attribute.String(otelhelper.StepIDKey, req.StepID))
	defer span.End()

	execution, err := s.recordStep(ctx, op, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	s.publish(ctx, execution.WorkflowID, events.ExecutionStepRecorded{
		BaseEvent:      events.NewBaseEvent(events.ExecutionStepRecordedEvent, execution.WorkflowID, execution.OrganizationID),
		ExecutionID:    execution.ID,
		StepID:         req.StepID,
		Status:         req.Status,
		CompletionRate: execution.CompletionRate,
	})
	s.invalidate(ctx, execution.OrganizationID, execution.WorkflowID)

	s.logger.DebugContext(ctx, "Step recorded",
		"execution_id", execution.ID, "step_id", req.StepID, "status", req.Status, "completion_rate", execution.CompletionRate)

	return execution, nil
}

func (s *Execution) recordStep(ctx context.Context, op string, req RecordStepRequest) (*models.Execution, error) {
	if err := s.check(op, req); err != nil {
		return nil, err
	}

	if !req.Status.IsValid() {
		return nil, newError(op, ErrInvalidStatus, "invalid step status '%s'", req.Status)
	}

	execution, err := s.load(ctx, op, req.ExecutionID, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	if req.ExpectedVersion != nil && *req.ExpectedVersion != execution.Version {
		return nil, newError(op, ErrVersionConflict,
			"execution %s: expected version %d, stored version %d", execution.ID, *req.ExpectedVersion, execution.Version)
	}

	if execution.Status.IsTerminal() {
		return nil, newError(op, ErrExecutionClosed, "execution %s is %s and accepts no step updates", execution.ID, execution.Status)
	}

	if !execution.InSnapshot(req.StepID) {
		return nil, newError(op, ErrStepNotInSnapshot, "step %s is not part of execution %s", req.StepID, execution.ID)
	}

	now := s.clock()

	entry, ok := execution.FindStepExecution(req.StepID)
	if !ok {
		execution.StepExecutions = append(execution.StepExecutions, models.StepExecution{StepID: req.StepID})
		entry = &execution.StepExecutions[len(execution.StepExecutions)-1]
	}

	entry.Status = req.Status
	entry.Error = req.Error

	if req.Response != nil {
		entry.Response = req.Response
	}

	if entry.StartedAt == nil {
		entry.StartedAt = &now
	}

	if req.Status == models.StepExecutionStatusPending {
		entry.CompletedAt = nil
	} else {
		entry.CompletedAt = &now
	}

	execution.CurrentStepID = nextOpenStep(execution)
	execution.RecomputeCompletionRate()
	execution.UpdatedAt = now

	stored := execution.Version
	if err := s.persistence.ExecutionRepository().Update(ctx, execution, stored); err != nil {
		return nil, wrap(op, err)
	}

	return execution, nil
}

// nextOpenStep returns the lowest-ordered snapshot step that is neither
// completed nor skipped, or "" when every step is done.
func nextOpenStep(execution *models.Execution) string {
	refs := make([]models.StepRef, len(execution.StepSnapshot))
	copy(refs, execution.StepSnapshot)
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Order < refs[j].Order })

	for _, ref := range refs {
		entry, ok := execution.FindStepExecution(ref.ID)
		if !ok {
			return ref.ID
		}

		if entry.Status != models.StepExecutionStatusCompleted && entry.Status != models.StepExecutionStatusSkipped {
			return ref.ID
		}
	}

	return ""
}
