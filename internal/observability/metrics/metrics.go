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
	paymentEvents   metric.Int64Counter
	effectsApplied  metric.Int64Counter
	settlements     metric.Int64Counter
	payoutJobs      metric.Int64Counter
	notifications   metric.Int64Counter
	recommendations metric.Int64Counter
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
		name = "paycore"
	}
	meter := provider.Meter(name)

	paymentEvents, err := meter.Int64Counter("paycore_payment_events_total")
	if err != nil {
		return nil, err
	}
	effectsApplied, err := meter.Int64Counter("paycore_effects_applied_total")
	if err != nil {
		return nil, err
	}
	settlements, err := meter.Int64Counter("paycore_settlements_total")
	if err != nil {
		return nil, err
	}
	payoutJobs, err := meter.Int64Counter("paycore_payout_jobs_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("paycore_notifications_total")
	if err != nil {
		return nil, err
	}
	recommendations, err := meter.Int64Counter("paycore_ops_recommendations_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentEvents:   paymentEvents,
		effectsApplied:  effectsApplied,
		settlements:     settlements,
		payoutJobs:      payoutJobs,
		notifications:   notifications,
		recommendations: recommendations,
	}, nil
}

// RecordPaymentEvent increments ledger insert counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	))
}

// RecordEffectApplied increments effect application counts.
func (m *Metrics) RecordEffectApplied(ctx context.Context, eventType string, financial bool) {
	if m == nil {
		return
	}
	m.effectsApplied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.Bool("financial", financial),
	))
}

// RecordSettlement increments settlement creation counts.
func (m *Metrics) RecordSettlement(ctx context.Context) {
	if m == nil {
		return
	}
	m.settlements.Add(ctx, 1)
}

// RecordPayoutJob increments payout job counts by outcome.
func (m *Metrics) RecordPayoutJob(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.payoutJobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", strings.TrimSpace(status)),
	))
}

// RecordNotification increments outbox counts by channel and outcome.
func (m *Metrics) RecordNotification(ctx context.Context, channel, status string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("status", strings.TrimSpace(status)),
	))
}

// RecordRecommendation increments ops recommendation counts by type.
func (m *Metrics) RecordRecommendation(ctx context.Context, recType string) {
	if m == nil {
		return
	}
	m.recommendations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", strings.TrimSpace(recType)),
	))
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
