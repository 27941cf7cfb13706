// Package telemetry wires structured logging, tracing, and metrics for
// stateprep.
//
// Logging uses zerolog and is configured through LoggingConfig. Traces are
// produced with OpenTelemetry and exported over OTLP gRPC or pretty-printed
// to stderr. Metrics live in a private Prometheus registry that can be
// served over HTTP or written to a node exporter textfile after a one-shot
// compilation.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	op := telemetry.StartOperation(tel.WithContext(ctx), "compile")
//	result, err := compiler.Compile(op.Ctx, doc)
//	op.End(err)
//
//	tel.RecordCompilation(telemetry.CompilationSummary{
//	    Status:   telemetry.StatusSucceeded,
//	    Duration: op.Timer.Duration(),
//	})
//
// # Metrics
//
// All metric names are prefixed with MetricsConfig.Namespace:
//
//   - compilations_total{status}
//   - compile_duration_seconds{status}
//   - records_emitted_total{kind}
//   - steps_skipped_total{code}
//   - last_compile_records
//   - policy_violations_total{severity}
//   - watch_reloads_total
package telemetry
