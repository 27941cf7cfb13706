package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetricsConfig() MetricsConfig {
	cfg := DefaultConfig().Metrics
	cfg.Namespace = "test"
	return cfg
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	// None of these may panic on a disabled collector.
	m.RecordCompilation(StatusSucceeded, time.Second)
	m.RecordRecords(map[string]int{"pkg": 2})
	m.RecordSkippedStep("MALFORMED_STEP")
	m.RecordPolicyViolation("error")
	m.RecordReload()

	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "never.prom")))
}

func TestMetrics_RecordCompilation(t *testing.T) {
	m, err := NewMetrics(testMetricsConfig())
	require.NoError(t, err)

	m.RecordCompilation(StatusSucceeded, 10*time.Millisecond)
	m.RecordCompilation(StatusSucceeded, 20*time.Millisecond)
	m.RecordCompilation(StatusFailed, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.compilations.WithLabelValues(StatusSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compilations.WithLabelValues(StatusFailed)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.compileDuration))
}

func TestMetrics_RecordRecords(t *testing.T) {
	m, err := NewMetrics(testMetricsConfig())
	require.NoError(t, err)

	m.RecordRecords(map[string]int{"pkg": 3, "file": 1})
	m.RecordRecords(map[string]int{"pkg": 1})

	assert.Equal(t, 4.0, testutil.ToFloat64(m.recordsEmitted.WithLabelValues("pkg")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsEmitted.WithLabelValues("file")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastRecords))
}

func TestMetrics_SkippedAndViolations(t *testing.T) {
	m, err := NewMetrics(testMetricsConfig())
	require.NoError(t, err)

	m.RecordSkippedStep("UNKNOWN_MODULE")
	m.RecordSkippedStep("UNKNOWN_MODULE")
	m.RecordPolicyViolation("warning")
	m.RecordReload()

	expected := `
# HELP test_steps_skipped_total Total number of steps skipped because they failed validation
# TYPE test_steps_skipped_total counter
test_steps_skipped_total{code="UNKNOWN_MODULE"} 2
`
	assert.NoError(t, testutil.CollectAndCompare(m.stepsSkipped, strings.NewReader(expected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.policyViolations.WithLabelValues("warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m, err := NewMetrics(testMetricsConfig())
	require.NoError(t, err)
	m.RecordCompilation(StatusSucceeded, time.Millisecond)

	path := filepath.Join(t.TempDir(), "stateprep.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `test_compilations_total{status="succeeded"} 1`)
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Duration(), 2*time.Millisecond)
}
