package web

import (
	"errors"
	"strings"

	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// statusFor maps the service error taxonomy onto HTTP status codes. State
// conflicts are reported as 400 so clients treat them like validation failures.
func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindValidation, services.KindStateConflict:
		return fiber.StatusBadRequest
	case services.KindConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// handleServiceError renders a service error as a problem document. The type is
// the lower-cased error code, the detail names the offending identifier.
func handleServiceError(c fiber.Ctx, err error) error {
	status := statusFor(services.KindOf(err))

	detail := err.Error()

	if status == fiber.StatusInternalServerError {
		log.FromContext(c.Context()).ErrorContext(c.Context(), "Request failed", "error", err)

		// Only service errors are known to carry a sanitized message.
		var serviceErr *services.ServiceError
		if !errors.As(err, &serviceErr) {
			detail = "internal server error"
		}
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(strings.ToLower(services.CodeOf(err))).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}
