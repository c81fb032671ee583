// Package metrics initializes an OpenTelemetry meter provider for the
// build engine's counters, adapted from the teacher's otel.Init — trimmed
// to metrics only, since a CLI build invocation has no request spans to
// trace and no long-lived process to bridge logs from.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config controls whether and where metrics are exported.
type Config struct {
	Enabled           bool
	Endpoint          string
	ServiceName       string
	ServiceInstanceID string
	Insecure          bool
	Version           string
}

// Provider holds the initialized meter provider plus process-level gauges.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         otelmetric.Meter
	startTime     time.Time
}

// Init sets up an OTLP/gRPC metrics pipeline when cfg.Enabled, otherwise
// returns a Provider backed by the global no-op meter. The returned
// shutdown function flushes and tears down the exporter; it is a no-op
// when metrics are disabled.
func Init(ctx context.Context, cfg Config) (*Provider, func(context.Context) error, error) {
	if !cfg.Enabled {
		return &Provider{Meter: otel.Meter(cfg.ServiceName), startTime: time.Now()},
			func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.ServiceInstanceID(cfg.ServiceInstanceID),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	p := &Provider{
		MeterProvider: meterProvider,
		Meter:         meterProvider.Meter(cfg.ServiceName),
		startTime:     time.Now(),
	}
	if err := p.registerUptimeGauge(); err != nil {
		meterProvider.Shutdown(ctx)
		return nil, nil, err
	}

	return p, meterProvider.Shutdown, nil
}

func (p *Provider) registerUptimeGauge() error {
	uptime, err := p.Meter.Float64ObservableGauge(
		"zocker_uptime_seconds",
		otelmetric.WithDescription("process uptime in seconds"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create uptime gauge: %w", err)
	}
	_, err = p.Meter.RegisterCallback(func(ctx context.Context, o otelmetric.Observer) error {
		o.ObserveFloat64(uptime, time.Since(p.startTime).Seconds())
		return nil
	}, uptime)
	if err != nil {
		return fmt.Errorf("register callback: %w", err)
	}
	return nil
}
