package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	admissions       metric.Int64Counter
	dispatches       metric.Int64Counter
	queueEntries     metric.Int64Counter
	callsEnded       metric.Int64Counter
	paymentEvents    metric.Int64Counter
	sweepReclaims    metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "warmline"
	}
	meter := provider.Meter(name)

	admissions, err := meter.Int64Counter("warmline_admissions_total")
	if err != nil {
		return nil, err
	}
	dispatches, err := meter.Int64Counter("warmline_dispatches_total")
	if err != nil {
		return nil, err
	}
	queueEntries, err := meter.Int64Counter("warmline_queue_entries_total")
	if err != nil {
		return nil, err
	}
	callsEnded, err := meter.Int64Counter("warmline_calls_ended_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("warmline_payment_events_total")
	if err != nil {
		return nil, err
	}
	sweepReclaims, err := meter.Int64Counter("warmline_sweep_reclaims_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("warmline_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("warmline_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		admissions:       admissions,
		dispatches:       dispatches,
		queueEntries:     queueEntries,
		callsEnded:       callsEnded,
		paymentEvents:    paymentEvents,
		sweepReclaims:    sweepReclaims,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordAdmission increments admission attempts by outcome (admitted, queued).
func (m *Metrics) RecordAdmission(ctx context.Context, planType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("plan_type", strings.TrimSpace(planType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.admissions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDispatch increments dispatch attempts by outcome.
func (m *Metrics) RecordDispatch(ctx context.Context, planType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("plan_type", strings.TrimSpace(planType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.dispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQueueEntry increments queue operations (enqueued, drained, failed, exhausted).
func (m *Metrics) RecordQueueEntry(ctx context.Context, planType, op string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("plan_type", strings.TrimSpace(planType)),
		attribute.String("op", strings.TrimSpace(op)),
	)
	m.queueEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCallEnded increments ended calls by reason.
func (m *Metrics) RecordCallEnded(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.callsEnded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSweepReclaim increments reservations reclaimed by the stale sweep.
func (m *Metrics) RecordSweepReclaim(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.sweepReclaims.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"plan_type":   {},
	"outcome":     {},
	"op":          {},
	"provider":    {},
	"event_type":  {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
