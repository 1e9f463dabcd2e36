package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// restoreGlobals puts the global OTel providers back after the test.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	})
}

func TestInitProvider_ExposesMetricsAndSpans(t *testing.T) {
	restoreGlobals(t)

	reg := prometheus.NewRegistry()
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		Registerer:     reg,
		TraceExporter:  exp,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordFrame(context.Background(), true)
	_, span := StartSpan(context.Background(), "activation")
	span.End()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "voxline_frames") {
			found = true
		}
	}
	if !found {
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		t.Errorf("frame counter not gathered; got %v", names)
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Name != "activation" {
		t.Fatalf("exported spans = %v, want one activation span", spans)
	}
	res := exp.GetSpans()[0].Resource
	if res.SchemaURL() != semconv.SchemaURL {
		t.Errorf("resource schema = %q, want %q", res.SchemaURL(), semconv.SchemaURL)
	}
	for key, want := range map[attribute.Key]string{
		semconv.ServiceNameKey:    "voxline",
		semconv.ServiceVersionKey: "test",
	} {
		if v, _ := res.Set().Value(key); v.AsString() != want {
			t.Errorf("resource %s = %q, want %q", key, v.AsString(), want)
		}
	}
}

func TestInitProvider_RejectsSampleRatio(t *testing.T) {
	restoreGlobals(t)
	if _, err := InitProvider(context.Background(), ProviderConfig{
		Registerer:  prometheus.NewRegistry(),
		SampleRatio: 1.5,
	}); err == nil {
		t.Fatal("expected an error for a sample ratio above 1")
	}
}
