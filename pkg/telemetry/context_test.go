package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTelemetry_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"

	_, err := NewTelemetry(cfg)
	assert.Error(t, err)
}

func TestStartOperation_WithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "compile")
	require.NotNil(t, op.Logger)
	require.NotNil(t, op.Timer)
	op.End(nil)
}

func TestStartOperation_WithTelemetry(t *testing.T) {
	tel, err := NewTelemetry(DefaultConfig())
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	var buf bytes.Buffer
	tel.Logger = jsonLogger(&buf, "info")
	ctx := tel.WithContext(context.Background())
	assert.Same(t, tel, FromTelemetryContext(ctx))

	op := StartOperation(ctx, "compile")
	assert.True(t, op.Span.SpanContext().IsValid())
	assert.Equal(t, op.Span.SpanContext().TraceID().String(), TraceID(op.Ctx))

	FromContext(op.Ctx).Info("inside")
	entry := lastEntry(t, &buf)
	assert.Equal(t, "compile", entry["operation"])
	assert.Equal(t, TraceID(op.Ctx), entry["trace_id"])

	op.End(errors.New("failed"))
}

func TestTelemetry_RecordCompilation(t *testing.T) {
	metrics, err := NewMetrics(testMetricsConfig())
	require.NoError(t, err)

	var buf bytes.Buffer
	tel := &Telemetry{Logger: jsonLogger(&buf, "info"), Metrics: metrics}

	tel.RecordCompilation(CompilationSummary{
		CompilationID: "c-7",
		Document:      "site.json",
		Status:        StatusSucceeded,
		Duration:      3 * time.Millisecond,
		RecordsByKind: map[string]int{"pkg": 2, "cmd": 1},
		SkippedCodes:  []string{"MALFORMED_STEP"},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.compilations.WithLabelValues(StatusSucceeded)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.lastRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.stepsSkipped.WithLabelValues("MALFORMED_STEP")))

	entry := lastEntry(t, &buf)
	assert.Equal(t, "Compilation finished", entry["message"])
	assert.Equal(t, float64(3), entry["records"])
	assert.Equal(t, float64(1), entry["skipped"])
}
