package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/cache"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/storage"
	"github.com/dukex/stepflow/pkg/templates"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Option configures the optional collaborators of a service.
type Option func(*base)

// WithPublisher sends lifecycle events to the external runner.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(b *base) { b.publisher = publisher }
}

// WithCache stores analytics reports and drops them when executions change.
func WithCache(c cache.AnalyticsCache) Option {
	return func(b *base) { b.cache = c }
}

// WithTemplates enables creating workflows from the catalog.
func WithTemplates(catalog *templates.Catalog) Option {
	return func(b *base) { b.templates = catalog }
}

// WithPresigner enables upload URLs for steps that accept files.
func WithPresigner(presigner storage.Presigner, ttl time.Duration) Option {
	return func(b *base) {
		b.presigner = presigner
		b.uploadTTL = ttl
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *base) { b.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(b *base) { b.tracer = tracer }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithIDGenerator overrides the document and step id generator.
func WithIDGenerator(fn func() string) Option {
	return func(b *base) { b.newID = fn }
}

// base holds what the workflow, execution and analytics services share.
type base struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	cache       cache.AnalyticsCache
	templates   *templates.Catalog
	presigner   storage.Presigner
	uploadTTL   time.Duration
	validate    *validator.Validate
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	newID       func() string
}

func newBase(p persistence.Persistence, module string, opts []Option) base {
	b := base{
		persistence: p,
		cache:       cache.Noop{},
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         time.Now,
		newID:       func() string { return uuid.Must(uuid.NewV7()).String() },
	}

	for _, opt := range opts {
		opt(&b)
	}

	if b.logger == nil {
		b.logger = log.WithModule(module)
	}

	if b.tracer == nil {
		b.tracer = otelhelper.Tracer()
	}

	return b
}

func (b *base) clock() time.Time {
	return b.now().UTC()
}

// check runs the struct validator and reports failures as ErrInvalidRequest.
func (b *base) check(op string, req any) error {
	if err := b.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]

			return newError(op, ErrInvalidRequest, "field %s failed the %s rule", fe.Field(), fe.Tag())
		}

		return newError(op, ErrInvalidRequest, "%v", err)
	}

	return nil
}

// publish hands an event to the runner. The write it describes has already been
// committed, so a failure is logged instead of failing the operation.
func (b *base) publish(ctx context.Context, key string, event eventbus.Event) {
	if b.publisher == nil {
		return
	}

	if err := b.publisher.Publish(ctx, key, event); err != nil {
		b.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "key", key, "error", err)
	}
}

func (b *base) invalidate(ctx context.Context, organizationID, workflowID string) {
	if err := b.cache.Invalidate(ctx, organizationID, workflowID); err != nil {
		b.logger.WarnContext(ctx, "Failed to invalidate analytics cache", "workflow_id", workflowID, "error", err)
	}
}

// findWorkflow loads a workflow owned by organizationID, including soft-deleted
// ones. Missing or foreign workflows are NotFound.
func (b *base) findWorkflow(ctx context.Context, op, id, organizationID string) (*models.Workflow, error) {
	workflow, err := b.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrInvalidID) {
			return nil, newError(op, ErrWorkflowNotFound, "workflow %s not found", id)
		}

		return nil, wrap(op, err)
	}

	if workflow == nil || workflow.OrganizationID != organizationID {
		return nil, newError(op, ErrWorkflowNotFound, "workflow %s not found", id)
	}

	return workflow, nil
}

// loadWorkflow is findWorkflow that also treats soft-deleted workflows as NotFound.
func (b *base) loadWorkflow(ctx context.Context, op, id, organizationID string) (*models.Workflow, error) {
	workflow, err := b.findWorkflow(ctx, op, id, organizationID)
	if err != nil {
		return nil, err
	}

	if workflow.IsDeleted() {
		return nil, newError(op, ErrWorkflowNotFound, "workflow %s not found", id)
	}

	return workflow, nil
}
