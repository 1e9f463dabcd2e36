package observe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxline/pkg/speech"
)

// EventListener turns pipeline events into metrics and activation spans.
// Every ACTIVATE opens an "activation" span tagged with a fresh activation
// ID; DEACTIVATE or TIMEOUT ends it. ERROR is recorded on the open span.
// RECOGNIZE is a span event while the activation is open. Recognisers that
// finish after the activation ended get a "recognize" child span of the last
// activation instead.
type EventListener struct {
	metrics *Metrics
	tracer  trace.Tracer

	mu      sync.Mutex
	span    trace.Span
	id      string
	started time.Time

	// Last ended activation, the parent for late recognitions.
	last   trace.SpanContext
	lastID string
}

// EventListenerOption configures an [EventListener].
type EventListenerOption func(*EventListener)

// WithTracer overrides the tracer used for activation spans. Defaults to
// [Tracer].
func WithTracer(t trace.Tracer) EventListenerOption {
	return func(l *EventListener) { l.tracer = t }
}

// NewEventListener returns a listener recording into m.
func NewEventListener(m *Metrics, opts ...EventListenerOption) *EventListener {
	l := &EventListener{metrics: m}
	for _, o := range opts {
		o(l)
	}
	if l.tracer == nil {
		l.tracer = Tracer()
	}
	return l
}

// ActivationID returns the ID of the open activation, or "" when inactive.
func (l *EventListener) ActivationID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// OnEvent implements [speech.Listener].
func (l *EventListener) OnEvent(e speech.Event, sc *speech.Context) error {
	ctx := context.Background()
	l.metrics.RecordEvent(ctx, e.String())

	l.mu.Lock()
	defer l.mu.Unlock()

	switch e {
	case speech.EventActivate:
		if l.span != nil {
			l.span.End()
		}
		l.id = uuid.NewString()
		l.started = time.Now()
		_, l.span = l.tracer.Start(ctx, "activation",
			trace.WithAttributes(attribute.String("activation.id", l.id)),
		)
	case speech.EventDeactivate, speech.EventTimeout:
		if l.span == nil {
			return nil
		}
		end := "deactivate"
		if e == speech.EventTimeout {
			end = "timeout"
		}
		l.span.SetAttributes(attribute.String("activation.end", end))
		l.span.End()
		l.metrics.RecordActivation(ctx, end, time.Since(l.started))
		l.last, l.lastID = l.span.SpanContext(), l.id
		l.span, l.id = nil, ""
	case speech.EventRecognize:
		attrs := []attribute.KeyValue{
			attribute.String("transcript", sc.Transcript()),
			attribute.Float64("confidence", sc.Confidence()),
		}
		switch {
		case l.span != nil:
			l.span.AddEvent("recognize", trace.WithAttributes(attrs...))
		case l.last.IsValid():
			parent := trace.ContextWithSpanContext(ctx, l.last)
			_, span := l.tracer.Start(parent, "recognize", trace.WithAttributes(
				append(attrs, attribute.String("activation.id", l.lastID))...,
			))
			span.End()
			l.last, l.lastID = trace.SpanContext{}, ""
		}
	case speech.EventError:
		if l.span != nil && sc.Err() != nil {
			l.span.RecordError(sc.Err())
			l.span.SetStatus(codes.Error, sc.Err().Error())
		}
	}
	return nil
}

// LogListener mirrors pipeline events into structured logs. TRACE messages
// are logged at Debug, errors at Warn and everything else at Info.
type LogListener struct {
	// Logger defaults to [slog.Default] when nil.
	Logger *slog.Logger
}

// OnEvent implements [speech.Listener].
func (l LogListener) OnEvent(e speech.Event, sc *speech.Context) error {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	switch e {
	case speech.EventTrace:
		if msg, ok := sc.Message(); ok {
			log.Debug("pipeline trace", "message", msg)
		}
	case speech.EventError:
		log.Warn("pipeline error", "err", sc.Err())
	case speech.EventRecognize:
		log.Info("pipeline event", "event", e, "transcript", sc.Transcript(), "confidence", sc.Confidence())
	default:
		log.Info("pipeline event", "event", e)
	}
	return nil
}

var (
	_ speech.Listener = (*EventListener)(nil)
	_ speech.Listener = LogListener{}
)
