package tracing

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"pnl-dashboard/internal/config"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	_, _, ok := TraceFields(ctx)
	assert.False(t, ok)
}

func TestInit_WritesSpansToFile(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	path := filepath.Join(t.TempDir(), "spans.json")
	shutdown, err := Init(config.TracingConfig{Enabled: true, ServiceName: "pnl-test", OutputPath: path}, "v0.0.1")
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "cycle", attribute.Int("seq", 1))
	traceID, spanID, ok := TraceFields(ctx)
	require.True(t, ok)
	assert.NotEmpty(t, traceID)
	assert.NotEmpty(t, spanID)

	var buf bytes.Buffer
	logger := Logger(ctx, zerolog.New(&buf))
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), traceID)

	EndSpan(span, errors.New("boom"))
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"cycle"`)
	assert.Contains(t, string(data), "pnl-test")
	assert.Contains(t, string(data), "boom")
}
