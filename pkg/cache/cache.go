// Package cache stores computed analytics reports between execution changes.
package cache

import (
	"context"

	"github.com/dukex/stepflow/pkg/analytics"
)

// AnalyticsCache keeps one report per (organization, workflow, days) window.
// Get reports a miss as (nil, nil).
type AnalyticsCache interface {
	Get(ctx context.Context, organizationID, workflowID string, days int) (*analytics.Report, error)
	Set(ctx context.Context, organizationID, workflowID string, days int, report *analytics.Report) error
	Invalidate(ctx context.Context, organizationID, workflowID string) error
}

// Noop never stores anything. It is used when no Redis URL is configured.
type Noop struct{}

func (Noop) Get(context.Context, string, string, int) (*analytics.Report, error) {
	return nil, nil
}

func (Noop) Set(context.Context, string, string, int, *analytics.Report) error {
	return nil
}

func (Noop) Invalidate(context.Context, string, string) error {
	return nil
}
