// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/cache"
	"github.com/dukex/stepflow/pkg/storage"
	"github.com/dukex/stepflow/pkg/templates"
)

// NewAnalyticsCache connects to Redis when a URL is given and falls back to no
// caching otherwise. The returned close function is never nil.
func NewAnalyticsCache(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (cache.AnalyticsCache, func() error, error) {
	if redisURL == "" {
		logger.InfoContext(ctx, "Analytics cache disabled")

		return cache.Noop{}, func() error { return nil }, nil
	}

	c, client, err := cache.NewRedisFromURL(ctx, redisURL, ttl, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize analytics cache: %w", err)
	}

	return c, client.Close, nil
}

// NewPresigner returns nil when no bucket is configured; upload URL requests
// then fail with a not configured error.
func NewPresigner(ctx context.Context, cfg storage.S3Config, logger *slog.Logger) (storage.Presigner, error) {
	if cfg.Bucket == "" {
		logger.InfoContext(ctx, "File uploads disabled, no bucket configured")

		return nil, nil
	}

	presigner, err := storage.NewS3PresignerFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return presigner, nil
}

// NewTemplateCatalog loads templates from dir, or the bundled catalog when dir is empty.
func NewTemplateCatalog(dir string) (*templates.Catalog, error) {
	if dir == "" {
		return templates.Default()
	}

	catalog, err := templates.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates from %s: %w", dir, err)
	}

	return catalog, nil
}
