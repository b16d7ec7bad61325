package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil)).With("request_id", "r-1")
	ctx := WithContext(context.Background(), logger)

	FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), "request_id=r-1")

	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}

func TestSetup(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	Setup("debug")
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))

	Setup("bogus")
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
}
