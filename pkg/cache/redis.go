package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/stepflow/pkg/analytics"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "stepflow:analytics"

// Redis caches reports as JSON strings. Every key written for a workflow is
// tracked in a companion set so Invalidate can drop them without scanning.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis wraps an existing client. The caller owns the client lifecycle.
func NewRedis(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		logger: logger.With("module", "analytics_cache"),
	}
}

// NewRedisFromURL parses a redis:// URL and pings the server.
func NewRedisFromURL(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*Redis, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return NewRedis(client, ttl, logger), client, nil
}

func reportKey(organizationID, workflowID string, days int) string {
	return keyPrefix + ":" + organizationID + ":" + workflowID + ":" + strconv.Itoa(days)
}

func indexKey(organizationID, workflowID string) string {
	return keyPrefix + ":" + organizationID + ":" + workflowID + ":keys"
}

func (r *Redis) Get(ctx context.Context, organizationID, workflowID string, days int) (*analytics.Report, error) {
	raw, err := r.client.Get(ctx, reportKey(organizationID, workflowID, days)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read cached report: %w", err)
	}

	var report analytics.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		r.logger.WarnContext(ctx, "Discarding undecodable cached report", "workflow_id", workflowID, "error", err)

		return nil, nil
	}

	return &report, nil
}

func (r *Redis) Set(ctx context.Context, organizationID, workflowID string, days int, report *analytics.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	key := reportKey(organizationID, workflowID, days)
	index := indexKey(organizationID, workflowID)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, r.ttl)
		pipe.SAdd(ctx, index, key)

		if r.ttl > 0 {
			pipe.Expire(ctx, index, r.ttl)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache report: %w", err)
	}

	return nil
}

func (r *Redis) Invalidate(ctx context.Context, organizationID, workflowID string) error {
	index := indexKey(organizationID, workflowID)

	keys, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached reports: %w", err)
	}

	if err := r.client.Del(ctx, append(keys, index)...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached reports: %w", err)
	}

	r.logger.DebugContext(ctx, "Invalidated analytics cache", "workflow_id", workflowID, "keys", len(keys))

	return nil
}
