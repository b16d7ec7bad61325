// Package main provides the Stepflow API server implementation.
package main

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/stepflow/pkg/cache"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/storage"
	"github.com/dukex/stepflow/pkg/templates"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	cache       cache.AnalyticsCache
	presigner   storage.Presigner
	uploadTTL   time.Duration
	templates   *templates.Catalog
	validate    *validator.Validate
}

// APIOption sets an optional collaborator. Without options the API runs with
// no events, no analytics cache and no uploads.
type APIOption func(*API)

func WithEventBus(bus eventbus.EventBus) APIOption {
	return func(a *API) { a.eventBus = bus }
}

func WithAnalyticsCache(c cache.AnalyticsCache) APIOption {
	return func(a *API) { a.cache = c }
}

func WithUploads(presigner storage.Presigner, ttl time.Duration) APIOption {
	return func(a *API) {
		a.presigner = presigner
		a.uploadTTL = ttl
	}
}

func WithTemplates(catalog *templates.Catalog) APIOption {
	return func(a *API) { a.templates = catalog }
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	opts ...APIOption,
) *API {
	a := &API{
		persistence: persistence,
		logger:      logger,
		uploadTTL:   storage.DefaultUploadExpiry,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

func (a *API) serviceOptions() []services.Option {
	var opts []services.Option

	if a.eventBus != nil {
		opts = append(opts, services.WithPublisher(a.eventBus))
	}

	if a.cache != nil {
		opts = append(opts, services.WithCache(a.cache))
	}

	if a.presigner != nil {
		opts = append(opts, services.WithPresigner(a.presigner, a.uploadTTL))
	}

	if a.templates != nil {
		opts = append(opts, services.WithTemplates(a.templates))
	}

	return opts
}

func (a *API) App() *fiber.App {
	opts := a.serviceOptions()

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(a.persistence, opts...),
		services.NewExecution(a.persistence, opts...),
		services.NewAnalytics(a.persistence, opts...),
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stepflow API")
	})

	handlers.Register(app, a.logger)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
