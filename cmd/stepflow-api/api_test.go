package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/templates"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T, opts ...APIOption) *fiber.App {
	t.Helper()

	api := NewAPI(slog.New(slog.DiscardHandler), file.NewPersistence(t.TempDir()), opts...)

	return api.App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Stepflow API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestAPI_PublishesWorkflowEvents(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	catalog, err := templates.Default()
	require.NoError(t, err)

	app := setupTestApp(t, WithEventBus(bus), WithTemplates(catalog))

	workflow := request[models.Workflow](t, app, http.MethodPost, "/workflows",
		web.CreateWorkflowRequest{TemplateID: "document-collection"}, http.StatusCreated)
	assert.Equal(t, "document-collection", workflow.TemplateID)
	assert.Empty(t, bus.Published())

	activated := request[models.Workflow](t, app, http.MethodPost, "/workflows/"+workflow.ID+"/status",
		web.ChangeStatusRequest{Status: "active"}, http.StatusOK)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)

	published := bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, events.WorkflowStatusChangedEvent, published[0].GetType())
}

func request[T any](t *testing.T, app *fiber.App, method, path string, payload any, status int) T {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.OrganizationHeader, "org-1")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, status, resp.StatusCode)

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}
