package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/analytics"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedis_SetGetInvalidate(t *testing.T) {
	client := setupRedis(t)
	c := NewRedis(client, time.Minute, slog.New(slog.DiscardHandler))
	ctx := t.Context()

	miss, err := c.Get(ctx, "org-1", "wf-1", 30)
	require.NoError(t, err)
	assert.Nil(t, miss)

	report := &analytics.Report{
		WorkflowID: "wf-1",
		Days:       30,
		Overview:   analytics.Overview{TotalSubmissions: 4, CompletionRate: 75},
		Trends:     []analytics.TrendPoint{{Date: "2026-05-01", Submissions: 4, Completions: 3, DropoffRate: 25}},
	}

	require.NoError(t, c.Set(ctx, "org-1", "wf-1", 30, report))
	require.NoError(t, c.Set(ctx, "org-1", "wf-1", 7, report))
	require.NoError(t, c.Set(ctx, "org-1", "wf-2", 30, report))

	hit, err := c.Get(ctx, "org-1", "wf-1", 30)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, 4, hit.Overview.TotalSubmissions)
	assert.Equal(t, report.Trends, hit.Trends)

	ttl, err := client.TTL(ctx, reportKey("org-1", "wf-1", 30)).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	require.NoError(t, c.Invalidate(ctx, "org-1", "wf-1"))

	for _, days := range []int{30, 7} {
		gone, err := c.Get(ctx, "org-1", "wf-1", days)
		require.NoError(t, err)
		assert.Nil(t, gone)
	}

	other, err := c.Get(ctx, "org-1", "wf-2", 30)
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestRedis_InvalidateEmpty(t *testing.T) {
	client := setupRedis(t)
	c := NewRedis(client, time.Minute, slog.New(slog.DiscardHandler))

	assert.NoError(t, c.Invalidate(t.Context(), "org-1", "missing"))
}

func TestNoop(t *testing.T) {
	var c AnalyticsCache = Noop{}

	require.NoError(t, c.Set(t.Context(), "org", "wf", 30, &analytics.Report{}))

	report, err := c.Get(t.Context(), "org", "wf", 30)
	assert.NoError(t, err)
	assert.Nil(t, report)
	assert.NoError(t, c.Invalidate(t.Context(), "org", "wf"))
}
