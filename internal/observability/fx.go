package observability

import (
	"github.com/smallbiznis/warmline/internal/observability/logger"
	"github.com/smallbiznis/warmline/internal/observability/metrics"
	"github.com/smallbiznis/warmline/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires logging, tracing and metrics as one unit so every binary gets
// the same telemetry surface.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		loggerConfig,
		logger.New,
		tracingConfig,
		tracing.NewProvider,
		metricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	// The tracer provider is lazily constructed by fx; force it so spans
	// exist even before the first instrumented call.
	fx.Invoke(func(_ *sdktrace.TracerProvider) {}),
	fx.Invoke(func(cfg metrics.Config) { metrics.SchedulerWithConfig(cfg) }),
)

func loggerConfig(cfg Config) logger.Config {
	debug := cfg.Debug()
	return logger.Config{
		ServiceName:         cfg.Service,
		Environment:         cfg.Env,
		Version:             cfg.Release,
		Level:               cfg.Level,
		Format:              cfg.Format,
		Debug:               debug,
		IncludeCaller:       true,
		IncludeStackOnError: debug,
	}
}

func tracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.ExportEnabled,
		ServiceName:      cfg.Service,
		ServiceVersion:   cfg.Release,
		Environment:      cfg.Env,
		ExporterEndpoint: cfg.ExportEndpoint,
		ExporterProtocol: cfg.ExportProtocol,
		SamplingRatio:    cfg.SampleRatio,
	}
}

func metricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.ExportEnabled,
		ExporterEndpoint: cfg.ExportEndpoint,
		ExporterProtocol: cfg.ExportProtocol,
		ServiceName:      cfg.Service,
		Environment:      cfg.Env,
	}
}
