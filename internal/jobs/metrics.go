package jobs

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

func attrJobType(jobType string) attribute.KeyValue { return attribute.String("job_type", jobType) }

func attrEventKind(kind string) attribute.KeyValue { return attribute.String("event_kind", kind) }

// MetricsProvider is A8: an OTel meter provider backed by a Prometheus
// exporter, exposing the job core's counters and gauges at GET /metrics.
type MetricsProvider struct {
	logger        *zap.Logger
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	handler       http.Handler

	jobsEnqueued     metric.Int64Counter
	jobsCompleted    metric.Int64Counter
	jobsFailed       metric.Int64Counter
	jobsRetried      metric.Int64Counter
	jobsDeadLettered metric.Int64Counter
	auditEvents      metric.Int64Counter
	queueDepth       metric.Int64ObservableGauge
	activeWorkers    metric.Int64UpDownCounter
}

// NewMetricsProvider builds the Prometheus-backed meter provider and
// registers every counter/gauge the job core exposes.
func NewMetricsProvider(logger *zap.Logger, serviceName string, queueDepthFn func() int64) (*MetricsProvider, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := meterProvider.Meter(serviceName)

	mp := &MetricsProvider{
		logger:        logger,
		meterProvider: meterProvider,
		meter:         meter,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	if err := mp.initMetrics(queueDepthFn); err != nil {
		return nil, err
	}
	return mp, nil
}

func (mp *MetricsProvider) initMetrics(queueDepthFn func() int64) error {
	var err error

	mp.jobsEnqueued, err = mp.meter.Int64Counter("jobcore_jobs_enqueued_total", metric.WithDescription("Total jobs admitted by the dispatcher"))
	if err != nil {
		return err
	}
	mp.jobsCompleted, err = mp.meter.Int64Counter("jobcore_jobs_completed_total", metric.WithDescription("Total jobs completed successfully"))
	if err != nil {
		return err
	}
	mp.jobsFailed, err = mp.meter.Int64Counter("jobcore_jobs_failed_total", metric.WithDescription("Total job attempts that failed"))
	if err != nil {
		return err
	}
	mp.jobsRetried, err = mp.meter.Int64Counter("jobcore_jobs_retried_total", metric.WithDescription("Total retries scheduled"))
	if err != nil {
		return err
	}
	mp.jobsDeadLettered, err = mp.meter.Int64Counter("jobcore_jobs_dead_lettered_total", metric.WithDescription("Total jobs moved to the dead-letter queue"))
	if err != nil {
		return err
	}
	mp.auditEvents, err = mp.meter.Int64Counter("jobcore_audit_events_total", metric.WithDescription("Total audit events emitted"))
	if err != nil {
		return err
	}
	mp.activeWorkers, err = mp.meter.Int64UpDownCounter("jobcore_active_workers", metric.WithDescription("Workers currently executing a handler"))
	if err != nil {
		return err
	}

	if queueDepthFn != nil {
		mp.queueDepth, err = mp.meter.Int64ObservableGauge("jobcore_queue_depth", metric.WithDescription("Current queue depth"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				o.Observe(queueDepthFn())
				return nil
			}))
		if err != nil {
			return err
		}
	}

	return nil
}

// RecordEnqueued increments the enqueued counter.
func (mp *MetricsProvider) RecordEnqueued(ctx context.Context, jobType string) {
	mp.jobsEnqueued.Add(ctx, 1, metric.WithAttributes(attrJobType(jobType)))
}

// RecordCompleted increments the completed counter.
func (mp *MetricsProvider) RecordCompleted(ctx context.Context, jobType string) {
	mp.jobsCompleted.Add(ctx, 1, metric.WithAttributes(attrJobType(jobType)))
}

// RecordFailed increments the failed counter.
func (mp *MetricsProvider) RecordFailed(ctx context.Context, jobType string) {
	mp.jobsFailed.Add(ctx, 1, metric.WithAttributes(attrJobType(jobType)))
}

// RecordRetried increments the retried counter.
func (mp *MetricsProvider) RecordRetried(ctx context.Context, jobType string) {
	mp.jobsRetried.Add(ctx, 1, metric.WithAttributes(attrJobType(jobType)))
}

// RecordDeadLettered increments the dead-lettered counter.
func (mp *MetricsProvider) RecordDeadLettered(ctx context.Context, jobType string) {
	mp.jobsDeadLettered.Add(ctx, 1, metric.WithAttributes(attrJobType(jobType)))
}

// RecordAuditEvent increments the audit events counter.
func (mp *MetricsProvider) RecordAuditEvent(ctx context.Context, kind string) {
	mp.auditEvents.Add(ctx, 1, metric.WithAttributes(attrEventKind(kind)))
}

// IncrementActiveWorkers/DecrementActiveWorkers track in-flight handler executions.
func (mp *MetricsProvider) IncrementActiveWorkers(ctx context.Context) { mp.activeWorkers.Add(ctx, 1) }
func (mp *MetricsProvider) DecrementActiveWorkers(ctx context.Context) { mp.activeWorkers.Add(ctx, -1) }

// Handler returns the Prometheus exposition HTTP handler for GET /metrics.
func (mp *MetricsProvider) Handler() http.Handler { return mp.handler }

// Shutdown flushes and stops the meter provider.
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	return mp.meterProvider.Shutdown(ctx)
}
