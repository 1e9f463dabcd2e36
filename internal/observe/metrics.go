// Package observe provides application-wide observability primitives for
// voxline: OpenTelemetry metrics, activation tracing, structured logging of
// pipeline events, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxline metrics.
const meterName = "github.com/MrWong99/voxline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Frame path ---

	// FramesProcessed counts dispatch cycles. Use with attribute:
	//   attribute.Bool("managed", ...)
	FramesProcessed metric.Int64Counter

	// StageDuration tracks per-frame processing time of one stage. Use with
	// attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// --- Errors ---

	// StageErrors counts stage failures. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("phase", ...)
	StageErrors metric.Int64Counter

	// InputErrors counts fatal input failures. Use with attribute:
	//   attribute.String("input", ...)
	InputErrors metric.Int64Counter

	// ListenerFailures counts failing listener invocations. Use with
	// attribute:
	//   attribute.String("event", ...)
	ListenerFailures metric.Int64Counter

	// --- Activation ---

	// Events counts dispatched pipeline events. Use with attribute:
	//   attribute.String("event", ...)
	Events metric.Int64Counter

	// ActivationDuration tracks how long activations last. Use with
	// attribute:
	//   attribute.String("end", "deactivate"|"timeout")
	ActivationDuration metric.Float64Histogram

	// --- Gauges ---

	// RunningPipelines tracks the number of pipelines with a live worker.
	RunningPipelines metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control API latency. Use with attributes:
	//   attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets defines histogram bucket boundaries (in seconds) for the
// per-frame work of a single stage, which must stay well below one frame.
var stageBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05,
}

// activationBuckets defines histogram bucket boundaries (in seconds) for
// utterance-length activations.
var activationBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 5, 7.5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Frame path.
	if met.FramesProcessed, err = m.Int64Counter("voxline.frames",
		metric.WithDescription("Total dispatch cycles by managed mode."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("voxline.stage.duration",
		metric.WithDescription("Per-frame processing latency of a pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}

	// Errors.
	if met.StageErrors, err = m.Int64Counter("voxline.stage.errors",
		metric.WithDescription("Total stage failures by stage and phase."),
	); err != nil {
		return nil, err
	}
	if met.InputErrors, err = m.Int64Counter("voxline.input.errors",
		metric.WithDescription("Total fatal input failures by input."),
	); err != nil {
		return nil, err
	}
	if met.ListenerFailures, err = m.Int64Counter("voxline.listener.failures",
		metric.WithDescription("Total failed listener invocations by event."),
	); err != nil {
		return nil, err
	}

	// Activation.
	if met.Events, err = m.Int64Counter("voxline.events",
		metric.WithDescription("Total dispatched pipeline events by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActivationDuration, err = m.Float64Histogram("voxline.activation.duration",
		metric.WithDescription("Length of activations by how they ended."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(activationBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.RunningPipelines, err = m.Int64UpDownCounter("voxline.running_pipelines",
		metric.WithDescription("Number of pipelines with a live worker."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxline.http.request.duration",
		metric.WithDescription("Control API latency by route and status code."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame counts one dispatch cycle.
func (m *Metrics) RecordFrame(ctx context.Context, managed bool) {
	m.FramesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("managed", managed)),
	)
}

// RecordStageDuration records the time one stage spent on one frame.
func (m *Metrics) RecordStageDuration(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordStageError counts a stage failure in the given phase (process, reset
// or close).
func (m *Metrics) RecordStageError(ctx context.Context, stage, phase string) {
	m.StageErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("phase", phase),
		),
	)
}

// RecordInputError counts a fatal input failure.
func (m *Metrics) RecordInputError(ctx context.Context, input string) {
	m.InputErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("input", input)),
	)
}

// RecordListenerFailure counts a failed listener invocation.
func (m *Metrics) RecordListenerFailure(ctx context.Context, event string) {
	m.ListenerFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordEvent counts a dispatched event.
func (m *Metrics) RecordEvent(ctx context.Context, event string) {
	m.Events.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordActivation records the length of a finished activation.
func (m *Metrics) RecordActivation(ctx context.Context, end string, d time.Duration) {
	m.ActivationDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("end", end)),
	)
}
