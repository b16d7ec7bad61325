package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v3"
)

// Register mounts the tenant scoped API under router. Template and health
// endpoints are not tenant scoped.
func (h *APIHandlers) Register(router fiber.Router, logger *slog.Logger) {
	router.Get("/health", h.HealthCheck)
	router.Get("/templates", h.GetTemplates)

	tenant := RequireTenant(logger)

	w := router.Group("/workflows", tenant)
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/status", h.ChangeWorkflowStatus)
	w.Post("/:id/duplicate", h.DuplicateWorkflow)

	w.Post("/:id/steps/actions", h.ApplyStepActions)
	w.Post("/:id/steps/reorder", h.ReorderSteps)
	w.Post("/:id/steps/:stepId/upload-url", h.IssueStepUploadURL)

	w.Post("/:id/executions", h.StartExecution)
	w.Get("/:id/executions", h.GetExecutions)
	w.Get("/:id/analytics", h.GetAnalytics)

	e := router.Group("/executions", tenant)
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/transition", h.TransitionExecution)
	e.Post("/:id/steps/:stepId", h.RecordStep)
}
