package web

import (
	"log/slog"

	"github.com/dukex/stepflow/pkg/log"
	"github.com/gofiber/fiber/v3"
)

// Tenant headers are set by the gateway in front of the API after it has
// authenticated the caller.
const (
	OrganizationHeader = "X-Organization-ID"
	ActorHeader        = "X-Actor-ID"
)

type localKey int

const (
	organizationKey localKey = iota
	actorKey
)

// RequireTenant rejects requests without an organization and attaches a request
// scoped logger to the request context.
func RequireTenant(logger *slog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		organizationID := c.Get(OrganizationHeader)
		if organizationID == "" {
			return badRequest(c, OrganizationHeader+" header is required")
		}

		actorID := c.Get(ActorHeader)

		c.Locals(organizationKey, organizationID)
		c.Locals(actorKey, actorID)

		requestLogger := logger.With(
			"organization_id", organizationID,
			"actor_id", actorID,
			"method", c.Method(),
			"path", c.Path(),
		)
		c.SetContext(log.WithContext(c.Context(), requestLogger))

		return c.Next()
	}
}

func organizationID(c fiber.Ctx) string {
	id, _ := c.Locals(organizationKey).(string)

	return id
}

func actorID(c fiber.Ctx) string {
	id, _ := c.Locals(actorKey).(string)

	return id
}
