package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the otel meter and tracer used by the workers.
// A nil *Observability is valid and records nothing.
type Observability struct {
	meterProvider    *metric.MeterProvider
	tracerProvider   *sdktrace.TracerProvider
	tracer           trace.Tracer
	tickCounter      otelmetric.Int64Counter
	deliveryCounter  otelmetric.Int64Counter
	deliveryDuration otelmetric.Float64Histogram
}

// New wires the prometheus metric exporter and, when jaegerEndpoint is set,
// a batching jaeger span exporter.
func New(serviceName, jaegerEndpoint string) *Observability {
	o := &Observability{}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
	} else {
		o.meterProvider = metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
		otel.SetMeterProvider(o.meterProvider)

		meter := o.meterProvider.Meter(serviceName)
		o.tickCounter, _ = meter.Int64Counter(
			"worker.ticks",
			otelmetric.WithDescription("Number of worker ticks"),
		)
		o.deliveryCounter, _ = meter.Int64Counter(
			"notifications.delivered",
			otelmetric.WithDescription("Number of delivery attempts by outcome"),
		)
		o.deliveryDuration, _ = meter.Float64Histogram(
			"notifications.delivery.duration",
			otelmetric.WithDescription("Transport call duration"),
			otelmetric.WithUnit("ms"),
		)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if jaegerEndpoint != "" {
		spanExporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
		if err != nil {
			log.Printf("Failed to create Jaeger exporter: %v", err)
		} else {
			opts = append(opts, sdktrace.WithBatcher(spanExporter))
		}
	}
	o.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(o.tracerProvider)
	o.tracer = o.tracerProvider.Tracer(serviceName)

	return o
}

// StartSpan starts a span, or returns the context's current span when tracing is off.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o == nil || o.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordTick(ctx context.Context, worker string, claimed int) {
	if o == nil || o.tickCounter == nil {
		return
	}
	o.tickCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("worker", worker),
		attribute.Bool("idle", claimed == 0),
	))
}

func (o *Observability) RecordDelivery(ctx context.Context, channel, status string, duration time.Duration) {
	if o == nil || o.deliveryCounter == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status),
	)
	o.deliveryCounter.Add(ctx, 1, attrs)
	o.deliveryDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (o *Observability) Shutdown() {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
}
