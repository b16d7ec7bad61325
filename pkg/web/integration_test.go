//go:build integration

package web_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/postgresql"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "test_stepflow",
				"POSTGRES_USER":     "test_user",
				"POSTGRES_PASSWORD": "test_pass",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test_user:test_pass@%s:%s/test_stepflow?sslmode=disable", host, port.Port())
}

func setupIntegrationApp(t *testing.T, dbURL string) (*fiber.App, *postgresql.Persistence) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	p, err := postgresql.NewPersistence(context.Background(), logger, dbURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = p.Close(context.Background())
	})

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(p, services.WithLogger(logger)),
		services.NewExecution(p, services.WithLogger(logger)),
		services.NewAnalytics(p, services.WithLogger(logger)),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.Register(app, logger)

	return app, p
}

func TestWorkflowLifecycle_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	app, p := setupIntegrationApp(t, setupTestDB(t))

	workflow := activeWorkflow(t, app)
	assert.Equal(t, models.WorkflowStatusActive, workflow.Status)
	assert.Len(t, workflow.Steps, 2)

	require.NoError(t, p.ContactRepository().Save(t.Context(), testutil.CreateTestContact("contact-1", "Ada Lovelace")))

	resp := do(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/executions", web.StartExecutionRequest{ContactID: "contact-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	execution := decode[models.Execution](t, resp)

	for _, step := range []string{"intro", "sign"} {
		resp = do(t, app, http.MethodPost, "/executions/"+execution.ID+"/steps/"+step, web.RecordStepRequest{Status: "completed"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	for _, status := range []string{"in_progress", "completed"} {
		resp = do(t, app, http.MethodPost, "/executions/"+execution.ID+"/transition", web.TransitionExecutionRequest{Status: status})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp = do(t, app, http.MethodGet, "/workflows/"+workflow.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored := decode[models.Workflow](t, resp)
	assert.Equal(t, int64(1), stored.Metrics.TotalExecutions)
	assert.Equal(t, int64(1), stored.Metrics.CompletedExecutions)

	resp = do(t, app, http.MethodGet, "/workflows/"+workflow.ID+"/analytics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := decode[struct {
		Overview struct {
			TotalSubmissions int     `json:"total_submissions"`
			CompletionRate   float64 `json:"completion_rate"`
		} `json:"overview"`
	}](t, resp)
	assert.Equal(t, 1, report.Overview.TotalSubmissions)
	assert.Equal(t, 100.0, report.Overview.CompletionRate)

	resp = do(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/status", web.ChangeStatusRequest{Status: "paused"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, app, http.MethodDelete, "/workflows/"+workflow.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, app, http.MethodGet, "/workflows/"+workflow.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
