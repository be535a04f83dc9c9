package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: how long requests, jobs and collaborator calls take
// - Traffic: request and job throughput
// - Errors: rate of failures
// - Saturation: running jobs and runner queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job metrics
	JobsSubmitted  metric.Int64Counter
	JobDuration    metric.Float64Histogram
	JobErrorsTotal metric.Int64Counter
	JobsActive     metric.Int64UpDownCounter

	// Collaborator metrics (image fetch, gemini)
	CollaboratorDuration metric.Float64Histogram
	CollaboratorErrors   metric.Int64Counter

	// Runner metrics
	RunnerDropped   metric.Int64Counter
	RunnerPanics    metric.Int64Counter
	RunnerQueueSize metric.Int64Gauge
}

// NewMetrics creates all metrics on a dedicated Prometheus registry, which
// also carries the Go runtime and process collectors. The returned handler
// serves that registry.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("orca")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Job metrics
	m.JobsSubmitted, err = meter.Int64Counter(
		"jobs_submitted_total",
		metric.WithDescription("Total number of jobs accepted"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Orchestration duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobErrorsTotal, err = meter.Int64Counter(
		"job_errors_total",
		metric.WithDescription("Total number of failed jobs by stage"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of jobs being orchestrated (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Collaborator metrics
	m.CollaboratorDuration, err = meter.Float64Histogram(
		"collaborator_duration_seconds",
		metric.WithDescription("Latency of calls to external collaborators in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CollaboratorErrors, err = meter.Int64Counter(
		"collaborator_errors_total",
		metric.WithDescription("Total number of failed collaborator calls"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Runner metrics
	m.RunnerDropped, err = meter.Int64Counter(
		"runner_dropped_total",
		metric.WithDescription("Total tasks rejected because the queue was full"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunnerPanics, err = meter.Int64Counter(
		"runner_panics_total",
		metric.WithDescription("Total tasks that panicked"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunnerQueueSize, err = meter.Int64Gauge(
		"runner_queue_size",
		metric.WithDescription("Current number of queued tasks (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobSubmitted records a job being accepted.
func (m *Metrics) RecordJobSubmitted(ctx context.Context) {
	m.JobsSubmitted.Add(ctx, 1)
}

// RecordJobStarted records orchestration starting for a job.
func (m *Metrics) RecordJobStarted(ctx context.Context) {
	m.JobsActive.Add(ctx, 1)
}

// RecordJobFinished records orchestration ending. stage names the step that
// failed and is ignored on success.
func (m *Metrics) RecordJobFinished(ctx context.Context, success bool, stage string, durationSeconds float64) {
	m.JobDuration.Record(ctx, durationSeconds, metric.WithAttributes(successAttr(success)))
	m.JobsActive.Add(ctx, -1)

	if !success {
		m.JobErrorsTotal.Add(ctx, 1, WithStage(stage))
	}
}

// RecordCollaboratorCall records one call to an external collaborator.
func (m *Metrics) RecordCollaboratorCall(ctx context.Context, name string, success bool, durationSeconds float64) {
	m.CollaboratorDuration.Record(ctx, durationSeconds,
		metric.WithAttributes(collaboratorAttr(name), successAttr(success)))
	if !success {
		m.CollaboratorErrors.Add(ctx, 1, metric.WithAttributes(collaboratorAttr(name)))
	}
}

// RecordRunnerDropped records a task rejected by a full queue.
func (m *Metrics) RecordRunnerDropped(ctx context.Context) {
	m.RunnerDropped.Add(ctx, 1)
}

// RecordRunnerPanic records a recovered task panic.
func (m *Metrics) RecordRunnerPanic(ctx context.Context) {
	m.RunnerPanics.Add(ctx, 1)
}

// RecordRunnerQueueSize records the current queue size.
func (m *Metrics) RecordRunnerQueueSize(ctx context.Context, size int64) {
	m.RunnerQueueSize.Record(ctx, size)
}
