package services

import (
	"context"

	"github.com/dukex/stepflow/pkg/analytics"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

type Analytics struct {
	base
}

func NewAnalytics(persistence persistence.Persistence, opts ...Option) *Analytics {
	return &Analytics{base: newBase(persistence, "analytics_service", opts)}
}

type AnalyticsRequest struct {
	WorkflowID     string `validate:"required"`
	OrganizationID string `validate:"required"`
	Days           int
}

// Get returns the analytics report of a workflow over the last Days days.
// Reports are served from the cache until an execution of the workflow changes.
func (s *Analytics) Get(ctx context.Context, req AnalyticsRequest) (*analytics.Report, error) {
	const op = "getAnalytics"

	if req.Days == 0 {
		req.Days = analytics.DefaultDays
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "analytics.get",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.Int(otelhelper.AnalyticsDaysKey, req.Days))
	defer span.End()

	report, hit, err := s.get(ctx, op, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.Bool(otelhelper.CacheHitKey, hit))

	return report, nil
}

func (s *Analytics) get(ctx context.Context, op string, req AnalyticsRequest) (*analytics.Report, bool, error) {
	if err := s.check(op, req); err != nil {
		return nil, false, err
	}

	if req.Days < 1 || req.Days > analytics.MaxDays {
		return nil, false, newError(op, ErrInvalidDays, "days must be between 1 and %d, got %d", analytics.MaxDays, req.Days)
	}

	workflow, err := s.loadWorkflow(ctx, op, req.WorkflowID, req.OrganizationID)
	if err != nil {
		return nil, false, err
	}

	cached, err := s.cache.Get(ctx, workflow.OrganizationID, workflow.ID, req.Days)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to read analytics cache", "workflow_id", workflow.ID, "error", err)
	}

	if cached != nil {
		return cached, true, nil
	}

	executions, err := s.persistence.ExecutionRepository().FindByWorkflow(ctx, workflow.ID, workflow.OrganizationID)
	if err != nil {
		return nil, false, wrap(op, err)
	}

	portals, err := s.persistence.PortalRepository().ListActiveByWorkflow(ctx, workflow.ID, workflow.OrganizationID)
	if err != nil {
		return nil, false, wrap(op, err)
	}

	report := analytics.Analyze(analytics.Input{
		WorkflowID:    workflow.ID,
		Steps:         workflow.Steps,
		Executions:    executions,
		ActivePortals: len(portals),
		Days:          req.Days,
		Now:           s.clock(),
	})

	if err := s.cache.Set(ctx, workflow.OrganizationID, workflow.ID, req.Days, report); err != nil {
		s.logger.WarnContext(ctx, "Failed to store analytics report", "workflow_id", workflow.ID, "error", err)
	}

	return report, false, nil
}
