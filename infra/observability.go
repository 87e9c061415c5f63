package infra

import (
	"context"
	"log/slog"
	"time"

	"github.com/scribe-rabbit/scribe-orchestrator/config"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/scribe-rabbit/scribe-orchestrator"

// ObservabilityClient owns the metric and trace pipelines plus the job
// lifecycle counters shared by the API and worker processes.
type ObservabilityClient struct {
	Tracer trace.Tracer

	JobsSubmitted   metric.Int64Counter
	JobsCompleted   metric.Int64Counter
	JobsFailed      metric.Int64Counter
	JobsRetried     metric.Int64Counter
	JobsCancelled   metric.Int64Counter
	WebhookAttempts metric.Int64Counter

	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

func InitObservabilityClient(cfg *config.EnvConfig) *ObservabilityClient {
	client := &ObservabilityClient{}

	if cfg.Grafana.OTLPEndpoint != "" {
		ctx := context.Background()

		res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.Grafana.ServiceName),
			attribute.String("deployment.environment", cfg.Environment.Mode),
		))
		if err != nil {
			slog.Error("failed to build OTLP resource, telemetry disabled", "error", err)
			res = resource.Default()
		}

		metricExporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.Grafana.OTLPEndpoint),
		)
		if err != nil {
			slog.Error("failed to create OTLP metric exporter", "error", err)
		} else {
			client.meterProvider = sdkmetric.NewMeterProvider(
				sdkmetric.WithResource(res),
				sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
					sdkmetric.WithInterval(30*time.Second))),
			)
			otel.SetMeterProvider(client.meterProvider)

			if err := runtime.Start(); err != nil {
				slog.Error("failed to start runtime instrumentation", "error", err)
			}
		}

		traceExporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Grafana.OTLPEndpoint),
		)
		if err != nil {
			slog.Error("failed to create OTLP trace exporter", "error", err)
		} else {
			client.tracerProvider = sdktrace.NewTracerProvider(
				sdktrace.WithResource(res),
				sdktrace.WithBatcher(traceExporter),
			)
			otel.SetTracerProvider(client.tracerProvider)
		}
	}

	client.Tracer = otel.Tracer(instrumentationName)

	meter := otel.Meter(instrumentationName)
	client.JobsSubmitted = mustCounter(meter, "jobs_submitted_total", "Jobs accepted at intake")
	client.JobsCompleted = mustCounter(meter, "jobs_completed_total", "Jobs that reached completed")
	client.JobsFailed = mustCounter(meter, "jobs_failed_total", "Jobs that reached terminal failed")
	client.JobsRetried = mustCounter(meter, "jobs_retried_total", "Retry transitions taken")
	client.JobsCancelled = mustCounter(meter, "jobs_cancelled_total", "Jobs cancelled")
	client.WebhookAttempts = mustCounter(meter, "webhook_attempts_total", "Webhook delivery attempts")

	return client
}

// JobAttributes builds the span attributes shared by job spans.
func (o *ObservabilityClient) JobAttributes(jobID, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("job.id", jobID),
		attribute.String("job.kind", kind),
	}
}

func mustCounter(meter metric.Meter, name, desc string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		slog.Error("failed to create counter", "name", name, "error", err)
		counter, _ = noop.Meter{}.Int64Counter(name)
	}
	return counter
}

func (o *ObservabilityClient) Shutdown(ctx context.Context) {
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
}
