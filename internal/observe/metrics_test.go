package observe

import (
	"context"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics backs a Metrics with a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric returns the named metric from any scope, or nil.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		if i := slices.IndexFunc(sm.Metrics, func(m metricdata.Metrics) bool { return m.Name == name }); i >= 0 {
			return &sm.Metrics[i]
		}
	}
	return nil
}

// sumWhere returns the int64 sum point whose attribute key equals value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want an int64 sum", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

// histogram returns the single data point of the named histogram.
func histogram(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("metric %q = %+v, want one histogram point", name, met.Data)
	}
	return hist.DataPoints[0]
}

func TestHistogramBuckets(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// A 20 ms frame budget must be resolvable by the stage buckets, and a
	// long utterance by the activation buckets.
	m.StageDuration.Record(ctx, 0.0004)
	m.ActivationDuration.Record(ctx, 4)
	m.HTTPRequestDuration.Record(ctx, 0.002)

	rm := collect(t, reader)
	tests := []struct {
		name    string
		buckets []float64
	}{
		{"voxline.stage.duration", stageBuckets},
		{"voxline.activation.duration", activationBuckets},
	}
	for _, tt := range tests {
		dp := histogram(t, rm, tt.name)
		if !slices.Equal(dp.Bounds, tt.buckets) {
			t.Errorf("%s bounds = %v, want %v", tt.name, dp.Bounds, tt.buckets)
		}
		if dp.Count != 1 {
			t.Errorf("%s count = %d, want 1", tt.name, dp.Count)
		}
	}
	if dp := histogram(t, rm, "voxline.http.request.duration"); dp.Count != 1 {
		t.Errorf("http duration count = %d, want 1", dp.Count)
	}
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, false)
	m.RecordFrame(ctx, false)
	m.RecordFrame(ctx, true)

	rm := collect(t, reader)
	if got, ok := sumWhere(t, rm, "voxline.frames", "managed", "false"); !ok || got != 2 {
		t.Errorf("unmanaged frames = %d (found %v), want 2", got, ok)
	}
	if got, ok := sumWhere(t, rm, "voxline.frames", "managed", "true"); !ok || got != 1 {
		t.Errorf("managed frames = %d (found %v), want 1", got, ok)
	}
}

func TestRecordStageError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStageError(ctx, "webrtc-vad", "process")
	m.RecordStageError(ctx, "webrtc-vad", "process")
	m.RecordStageError(ctx, "speech-sampler", "close")

	rm := collect(t, reader)
	if got, ok := sumWhere(t, rm, "voxline.stage.errors", "phase", "process"); !ok || got != 2 {
		t.Errorf("process errors = %d (found %v), want 2", got, ok)
	}
	if got, ok := sumWhere(t, rm, "voxline.stage.errors", "stage", "speech-sampler"); !ok || got != 1 {
		t.Errorf("sampler errors = %d (found %v), want 1", got, ok)
	}
}

func TestErrorCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInputError(ctx, "portaudio")
	m.RecordListenerFailure(ctx, "trace")
	m.RecordEvent(ctx, "activate")

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
	}{
		{"voxline.input.errors", "input", "portaudio"},
		{"voxline.listener.failures", "event", "trace"},
		{"voxline.events", "event", "activate"},
	}
	for _, tc := range tests {
		if got, ok := sumWhere(t, rm, tc.metric, tc.key, tc.value); !ok || got != 1 {
			t.Errorf("%s{%s=%s} = %d (found %v), want 1", tc.metric, tc.key, tc.value, got, ok)
		}
	}
}

func TestRecordDurations(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStageDuration(ctx, "activity-filter", 20*time.Microsecond)
	m.RecordActivation(ctx, "timeout", 5*time.Second)

	rm := collect(t, reader)
	stage := histogram(t, rm, "voxline.stage.duration")
	if v, _ := stage.Attributes.Value("stage"); v.AsString() != "activity-filter" {
		t.Errorf("stage attribute = %q", v.AsString())
	}
	if stage.Sum < 0.0000199 || stage.Sum > 0.0000201 {
		t.Errorf("stage duration sum = %v s, want 20µs", stage.Sum)
	}
	act := histogram(t, rm, "voxline.activation.duration")
	if v, _ := act.Attributes.Value("end"); v.AsString() != "timeout" {
		t.Errorf("end attribute = %q", v.AsString())
	}
}

func TestRunningPipelinesGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive: two starts and one stop leave 1.
	m.RunningPipelines.Add(ctx, 1)
	m.RunningPipelines.Add(ctx, 1)
	m.RunningPipelines.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "voxline.running_pipelines")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("gauge data points = %+v, want value 1", sum.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
