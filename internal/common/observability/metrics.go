package observability

import (
	"context"
	"time"

	"camunda-discovery/internal/common/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	jobCounter    otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	fireCounter   otelmetric.Int64Counter
	engineCalls   otelmetric.Float64Histogram
}

// New wires an OTel meter provider to the Prometheus exporter. A failed
// exporter yields a no-op Observability.
func New(serviceName string, log logger.Logger) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Warn("Failed to create Prometheus exporter", map[string]interface{}{
			"error": err,
		})
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	jobCounter, _ := meter.Int64Counter(
		"activity.jobs.processed",
		otelmetric.WithDescription("Number of activity jobs processed"),
	)

	jobDuration, _ := meter.Float64Histogram(
		"activity.jobs.duration",
		otelmetric.WithDescription("Activity job processing duration"),
		otelmetric.WithUnit("ms"),
	)

	fireCounter, _ := meter.Int64Counter(
		"schedule.fires",
		otelmetric.WithDescription("Number of schedule fires"),
	)

	engineCalls, _ := meter.Float64Histogram(
		"schedule.engine.duration",
		otelmetric.WithDescription("Schedule engine call duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		jobCounter:    jobCounter,
		jobDuration:   jobDuration,
		fireCounter:   fireCounter,
		engineCalls:   engineCalls,
	}
}

func (o *Observability) RecordJobProcessed(ctx context.Context, activity, status string) {
	if o == nil || o.jobCounter == nil {
		return
	}
	o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("activity", activity),
		attribute.String("status", status),
	))
}

func (o *Observability) RecordJobDuration(ctx context.Context, activity string, duration time.Duration, status string) {
	if o == nil || o.jobDuration == nil {
		return
	}
	o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("activity", activity),
		attribute.String("status", status),
	))
}

func (o *Observability) RecordScheduleFire(ctx context.Context, scheduleID, result string) {
	if o == nil || o.fireCounter == nil {
		return
	}
	o.fireCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("schedule_id", scheduleID),
		attribute.String("result", result),
	))
}

func (o *Observability) RecordEngineCall(ctx context.Context, operation string, duration time.Duration, err error) {
	if o == nil || o.engineCalls == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.engineCalls.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
