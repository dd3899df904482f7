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
	paymentEvents  metric.Int64Counter
	stagingCreated metric.Int64Counter
	syncOutcomes   metric.Int64Counter
	refunds        metric.Int64Counter
	remoteCalls    metric.Int64Counter
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
		name = "registrar"
	}
	meter := provider.Meter(name)

	paymentEvents, err := meter.Int64Counter("registrar_payment_events_total")
	if err != nil {
		return nil, err
	}
	stagingCreated, err := meter.Int64Counter("registrar_staging_documents_total")
	if err != nil {
		return nil, err
	}
	syncOutcomes, err := meter.Int64Counter("registrar_sync_outcomes_total")
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("registrar_refunds_total")
	if err != nil {
		return nil, err
	}
	remoteCalls, err := meter.Int64Counter("registrar_accounting_calls_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentEvents:  paymentEvents,
		stagingCreated: stagingCreated,
		syncOutcomes:   syncOutcomes,
		refunds:        refunds,
		remoteCalls:    remoteCalls,
	}, nil
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

// RecordStagingCreated counts staged invoices and credit notes by reason.
func (m *Metrics) RecordStagingCreated(ctx context.Context, documentType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("document_type", strings.TrimSpace(documentType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.stagingCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSyncOutcome counts per-record sync results.
func (m *Metrics) RecordSyncOutcome(ctx context.Context, resource, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("resource", strings.TrimSpace(resource)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.syncOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRefund counts refund state transitions.
func (m *Metrics) RecordRefund(ctx context.Context, refundType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("refund_type", strings.TrimSpace(refundType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.refunds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRemoteCall counts accounting API calls by endpoint and status class.
func (m *Metrics) RecordRemoteCall(ctx context.Context, endpoint string, statusCode int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.Int("status_code", statusCode),
	)
	m.remoteCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"endpoint":      {},
	"status_code":   {},
	"provider":      {},
	"event_type":    {},
	"document_type": {},
	"reason":        {},
	"resource":      {},
	"outcome":       {},
	"refund_type":   {},
	"status":        {},
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
