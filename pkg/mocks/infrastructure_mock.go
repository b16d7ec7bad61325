package mocks

import (
	"context"
	"time"

	"github.com/dukex/stepflow/pkg/analytics"
	"github.com/dukex/stepflow/pkg/storage"
	"github.com/stretchr/testify/mock"
)

// MockPresigner is a mock implementation of storage.Presigner interface.
type MockPresigner struct {
	mock.Mock
}

func (m *MockPresigner) PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (*storage.UploadURL, error) {
	args := m.Called(ctx, key, contentType, expires)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*storage.UploadURL), args.Error(1)
}

// MockAnalyticsCache is a mock implementation of cache.AnalyticsCache interface.
type MockAnalyticsCache struct {
	mock.Mock
}

func (m *MockAnalyticsCache) Get(ctx context.Context, organizationID, workflowID string, days int) (*analytics.Report, error) {
	args := m.Called(ctx, organizationID, workflowID, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*analytics.Report), args.Error(1)
}

func (m *MockAnalyticsCache) Set(ctx context.Context, organizationID, workflowID string, days int, report *analytics.Report) error {
	args := m.Called(ctx, organizationID, workflowID, days, report)

	return args.Error(0)
}

func (m *MockAnalyticsCache) Invalidate(ctx context.Context, organizationID, workflowID string) error {
	args := m.Called(ctx, organizationID, workflowID)

	return args.Error(0)
}
