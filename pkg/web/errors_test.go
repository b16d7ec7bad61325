package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		problem    string
		hideDetail bool
	}{
		{"not found", services.ErrWorkflowNotFound, http.StatusNotFound, "workflow_not_found", false},
		{"validation", services.ErrInvalidDays, http.StatusBadRequest, "invalid_days", false},
		{"state conflict", services.ErrActivePortals, http.StatusBadRequest, "active_portals", false},
		{"version conflict", persistence.NewVersionConflict("update", "wf-1", 1, 2), http.StatusConflict, "version_conflict", false},
		{"unknown", errors.New("pq: password authentication failed"), http.StatusInternalServerError, "internal_error", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c fiber.Ctx) error { return handleServiceError(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.problem, body["type"])

			if tt.hideDetail {
				assert.NotContains(t, body["detail"], "pq:")
			}
		})
	}
}
