package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for compilation runs.
type Metrics struct {
	config MetricsConfig

	// Compilation metrics
	compilations    *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec

	// Output metrics
	recordsEmitted *prometheus.CounterVec
	stepsSkipped   *prometheus.CounterVec
	lastRecords    prometheus.Gauge

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Watch mode metrics
	reloads prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Every recording method is a no-op on this instance.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		compilations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compilations_total",
				Help:      "Total number of document compilations",
			},
			[]string{"status"},
		),
		compileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compile_duration_seconds",
				Help:      "Duration of document compilation in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		recordsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_emitted_total",
				Help:      "Total number of target-state records emitted",
			},
			[]string{"kind"},
		),
		stepsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_skipped_total",
				Help:      "Total number of steps skipped because they failed validation",
			},
			[]string{"code"},
		),
		lastRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_compile_records",
				Help:      "Number of records produced by the most recent compilation",
			},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations found in compiled records",
			},
			[]string{"severity"},
		),
		reloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_reloads_total",
				Help:      "Total number of recompilations triggered by file changes",
			},
		),
	}

	registry.MustRegister(
		m.compilations,
		m.compileDuration,
		m.recordsEmitted,
		m.stepsSkipped,
		m.lastRecords,
		m.policyViolations,
		m.reloads,
	)

	return m, nil
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCompilation records a finished compilation with its status and duration.
func (m *Metrics) RecordCompilation(status string, duration time.Duration) {
	if m.compilations == nil {
		return
	}
	m.compilations.WithLabelValues(status).Inc()
	m.compileDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRecords counts emitted records by kind and updates the last-run gauge.
func (m *Metrics) RecordRecords(byKind map[string]int) {
	if m.recordsEmitted == nil {
		return
	}
	total := 0
	for kind, n := range byKind {
		m.recordsEmitted.WithLabelValues(kind).Add(float64(n))
		total += n
	}
	m.lastRecords.Set(float64(total))
}

// RecordSkippedStep counts a skipped step by error code.
func (m *Metrics) RecordSkippedStep(code string) {
	if m.stepsSkipped == nil {
		return
	}
	m.stepsSkipped.WithLabelValues(code).Inc()
}

// RecordPolicyViolation counts a policy violation by severity.
func (m *Metrics) RecordPolicyViolation(severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(severity).Inc()
}

// RecordReload counts a watch-mode recompilation.
func (m *Metrics) RecordReload() {
	if m.reloads == nil {
		return
	}
	m.reloads.Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// WriteTextfile writes all metrics to path in the Prometheus text format,
// for pickup by the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", server.Addr).Msg("Metrics server failed")
		}
	}()

	logger.Info().Str("addr", server.Addr).Str("path", path).Msg("Serving metrics")
	return nil
}
