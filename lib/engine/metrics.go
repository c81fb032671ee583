package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics wraps the otel instruments the engine records against. It is
// nil-safe: NewMetrics always returns a usable value backed by a no-op
// meter provider; NewMetricsWithProvider (used by Engine.SetMeterProvider)
// wires a real one instead.
type Metrics struct {
	cacheHits    metric.Int64Counter
	layersBuilt  metric.Int64Counter
	buildSeconds metric.Float64Histogram
}

func NewMetrics() *Metrics {
	return newMetricsFromMeter(noop.NewMeterProvider().Meter("zocker/engine"))
}

// NewMetricsWithProvider wires real counters from an application-provided
// MeterProvider (e.g. an OTLP exporter configured at process startup).
func NewMetricsWithProvider(provider metric.MeterProvider) *Metrics {
	return newMetricsFromMeter(provider.Meter("zocker/engine"))
}

func newMetricsFromMeter(meter metric.Meter) *Metrics {
	cacheHits, _ := meter.Int64Counter("zocker.build.cache_hits", metric.WithDescription("instructions served from the build cache"))
	layersBuilt, _ := meter.Int64Counter("zocker.build.layers_built", metric.WithDescription("new layer directories materialized"))
	buildSeconds, _ := meter.Float64Histogram("zocker.build.duration_seconds", metric.WithDescription("wall-clock time of a full Build call"))
	return &Metrics{cacheHits: cacheHits, layersBuilt: layersBuilt, buildSeconds: buildSeconds}
}

func (m *Metrics) RecordCacheHit() {
	if m == nil || m.cacheHits == nil {
		return
	}
	m.cacheHits.Add(context.Background(), 1)
}

func (m *Metrics) RecordLayerBuilt() {
	if m == nil || m.layersBuilt == nil {
		return
	}
	m.layersBuilt.Add(context.Background(), 1)
}

func (m *Metrics) RecordBuildDuration(d time.Duration) {
	if m == nil || m.buildSeconds == nil {
		return
	}
	m.buildSeconds.Record(context.Background(), d.Seconds())
}
