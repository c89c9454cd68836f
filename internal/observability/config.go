package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/warmline/internal/config"
)

// Config carries the telemetry settings shared by the logger, tracer and
// meter providers. Everything, including log level, comes from the
// environment so a deploy can flip verbosity without a rebuild.
type Config struct {
	Service string
	Env     string
	Release string

	Level  string
	Format string

	ExportEnabled  bool
	ExportEndpoint string
	ExportProtocol string
	SampleRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	c := Config{
		Service: strings.TrimSpace(cfg.AppName),
		Env:     envOr("DEPLOYMENT_ENV", cfg.Environment),
		Release: envOr("SERVICE_VERSION", cfg.AppVersion),

		Level:  strings.ToLower(envOr("LOG_LEVEL", "info")),
		Format: strings.ToLower(envOr("LOG_FORMAT", "json")),

		ExportEnabled:  envBool("OTEL_ENABLED", true),
		ExportEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		ExportProtocol: strings.ToLower(envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		SampleRatio:    envFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
	if c.Service == "" {
		c.Service = "warmline"
	}
	// The signal-specific variable wins over the shared one, matching the
	// OTLP exporter spec's precedence.
	if p := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); p != "" {
		c.ExportProtocol = strings.ToLower(p)
	}
	return c
}

// Debug reports whether the process should run with verbose diagnostics.
// Dev-like environments are debug regardless of LOG_LEVEL.
func (c Config) Debug() bool {
	if c.Level == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
