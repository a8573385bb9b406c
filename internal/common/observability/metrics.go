package observability

import (
	"context"
	"time"

	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// CountsFunc reports how many jobs of one type sit in each queue state.
type CountsFunc func(ctx context.Context, jobType models.JobType) (map[models.JobState]int64, error)

// Observability records job telemetry through the OpenTelemetry metric API.
// The Prometheus exporter publishes it on the default registry next to the
// promauto collectors in the metrics package.
type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	jobCounter    otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	logger        logger.Logger
}

func New(serviceName string, log logger.Logger) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Error("prometheus exporter unavailable, job telemetry disabled", map[string]interface{}{"error": err.Error()})
		return &Observability{logger: log}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return newWithProvider(provider, serviceName, log)
}

func newWithProvider(provider *metric.MeterProvider, serviceName string, log logger.Logger) *Observability {
	meter := provider.Meter(serviceName)

	jobCounter, _ := meter.Int64Counter(
		"orchestrator.jobs.processed",
		otelmetric.WithDescription("Jobs settled by the runner, by type and outcome"),
	)
	jobDuration, _ := meter.Float64Histogram(
		"orchestrator.jobs.duration",
		otelmetric.WithDescription("Handler run time per job"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		jobCounter:    jobCounter,
		jobDuration:   jobDuration,
		logger:        log,
	}
}

func (o *Observability) RecordJobProcessed(ctx context.Context, jobType, status string) {
	if o.jobCounter == nil {
		return
	}
	o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", status),
	))
}

func (o *Observability) RecordJobDuration(ctx context.Context, jobType string, duration time.Duration, status string) {
	if o.jobDuration == nil {
		return
	}
	o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", status),
	))
}

// RegisterQueueDepth exports a gauge of jobs per type and state, read from
// counts at every collection. A type whose count fails is left out of that
// collection.
func (o *Observability) RegisterQueueDepth(jobTypes []models.JobType, counts CountsFunc) error {
	if o.meter == nil {
		return nil
	}
	gauge, err := o.meter.Int64ObservableGauge(
		"orchestrator.queue.depth",
		otelmetric.WithDescription("Jobs in the queue, by type and state"),
	)
	if err != nil {
		return err
	}

	_, err = o.meter.RegisterCallback(func(ctx context.Context, obs otelmetric.Observer) error {
		for _, jobType := range jobTypes {
			byState, err := counts(ctx, jobType)
			if err != nil {
				if o.logger != nil {
					o.logger.Warn("queue depth unavailable", map[string]interface{}{"jobType": jobType, "error": err.Error()})
				}
				continue
			}
			for state, n := range byState {
				obs.ObserveInt64(gauge, n, otelmetric.WithAttributes(
					attribute.String("job_type", string(jobType)),
					attribute.String("state", string(state)),
				))
			}
		}
		return nil
	}, gauge)
	return err
}

func (o *Observability) Shutdown() {
	if o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
