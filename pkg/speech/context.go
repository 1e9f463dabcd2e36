// Package speech defines the shared activation state of a voxline pipeline
// and the contracts of the components that plug into it.
//
// A [Context] carries the activation flags, the latest transcript and error,
// and an ordered listener registry. Every state change that matters to the
// outside world is announced as an [Event]. Each listener invocation is
// isolated, so a failing listener never stops the others and never reaches
// the caller.
//
// [Input] and [Stage] are the per-frame collaborators driven by the pipeline
// engine. They are constructed from [Properties] by named factories.
package speech

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxline/pkg/audio"
)

// Listener receives events from a [Context]. OnEvent runs synchronously on the
// goroutine that caused the event, which is normally the pipeline worker, so
// implementations must return quickly and must not stop or pause the pipeline
// that is calling them.
type Listener interface {
	OnEvent(e Event, sc *Context) error
}

// ListenerFunc adapts an ordinary function to the [Listener] interface.
type ListenerFunc func(e Event, sc *Context) error

// OnEvent calls f(e, sc).
func (f ListenerFunc) OnEvent(e Event, sc *Context) error { return f(e, sc) }

// PanicError wraps a value recovered from a panicking listener, stage or input.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic: %v", p.Value) }

type registration struct {
	id uint64
	l  Listener
}

// Context is the activation state shared by the pipeline engine, its stages
// and external listeners. All methods are safe for concurrent use. Listeners
// are invoked outside the internal lock, so they may freely read or modify
// the context and add or remove listeners.
type Context struct {
	mu         sync.Mutex
	threshold  TraceLevel
	speech     bool
	active     bool
	managed    bool
	transcript string
	confidence float64
	err        error
	message    string
	ring       *audio.FrameRing

	listeners []registration
	nextID    uint64

	onFailure func(Event, error)
}

// ContextOption configures a [Context].
type ContextOption func(*Context)

// WithTraceLevel sets the trace threshold. The default is [TraceNone].
func WithTraceLevel(l TraceLevel) ContextOption {
	return func(c *Context) { c.threshold = l }
}

// WithFailureHook registers fn to be called for every listener failure, after
// the failure has been logged. It is used to feed failure metrics.
func WithFailureHook(fn func(Event, error)) ContextOption {
	return func(c *Context) { c.onFailure = fn }
}

// NewContext returns an inactive context with no listeners.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{threshold: TraceNone}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AddListener appends l to the dispatch order and returns a function that
// removes it again. Calling the returned function more than once is harmless.
func (c *Context) AddListener(l Listener) (remove func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	// Copy on write so snapshots held by in-flight dispatches stay intact.
	next := make([]registration, len(c.listeners), len(c.listeners)+1)
	copy(next, c.listeners)
	c.listeners = append(next, registration{id: id, l: l})
	c.mu.Unlock()

	return func() { c.removeListener(id) }
}

func (c *Context) removeListener(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.listeners {
		if r.id == id {
			next := make([]registration, 0, len(c.listeners)-1)
			next = append(next, c.listeners[:i]...)
			c.listeners = append(next, c.listeners[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (c *Context) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Dispatch invokes every registered listener in registration order. A listener
// that returns an error or panics is logged and skipped. Unless e is
// [EventTrace] the failure is also announced through [Context.TraceInfo];
// failures while dispatching a trace never re-enter Dispatch.
func (c *Context) Dispatch(e Event) {
	c.mu.Lock()
	snapshot := c.listeners
	c.mu.Unlock()

	for _, r := range snapshot {
		err := invoke(r.l, e, c)
		if err == nil {
			continue
		}
		slog.Warn("speech: listener failed", "event", e.String(), "err", err)
		if c.onFailure != nil {
			c.onFailure(e, err)
		}
		if e != EventTrace {
			c.TraceInfo("dispatch-failed: %v", err)
		}
	}
}

func invoke(l Listener, e Event, c *Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	return l.OnEvent(e, c)
}

// IsActive reports whether an activation is in progress.
func (c *Context) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SetActive updates the activation flag and dispatches [EventActivate] or
// [EventDeactivate] when, and only when, the value flips.
func (c *Context) SetActive(active bool) {
	c.mu.Lock()
	changed := c.active != active
	c.active = active
	c.mu.Unlock()

	if !changed {
		return
	}
	if active {
		c.Dispatch(EventActivate)
	} else {
		c.Dispatch(EventDeactivate)
	}
}

// Timeout ends an activation because it lasted too long. The active flag is
// cleared and [EventTimeout] is dispatched in place of [EventDeactivate].
// Timeout does nothing when the context is not active.
func (c *Context) Timeout() {
	c.mu.Lock()
	wasActive := c.active
	c.active = false
	c.mu.Unlock()

	if wasActive {
		c.Dispatch(EventTimeout)
	}
}

// IsManaged reports whether activation is owned by an external collaborator.
// While managed, the pipeline engine bypasses its stages.
func (c *Context) IsManaged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.managed
}

// SetManaged updates the managed flag. No event is dispatched.
func (c *Context) SetManaged(managed bool) {
	c.mu.Lock()
	c.managed = managed
	c.mu.Unlock()
}

// IsSpeech reports the raw per-frame speech decision of the classifier stage.
func (c *Context) IsSpeech() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speech
}

// SetSpeech records the raw per-frame speech decision. No event is dispatched.
func (c *Context) SetSpeech(speech bool) {
	c.mu.Lock()
	c.speech = speech
	c.mu.Unlock()
}

// Transcript returns the most recent recognition result.
func (c *Context) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// SetTranscript records a recognition result. No event is dispatched.
func (c *Context) SetTranscript(transcript string) {
	c.mu.Lock()
	c.transcript = transcript
	c.mu.Unlock()
}

// Confidence returns the confidence of the current transcript in [0, 1).
func (c *Context) Confidence() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confidence
}

// SetConfidence records the confidence of the current transcript.
func (c *Context) SetConfidence(confidence float64) {
	c.mu.Lock()
	c.confidence = confidence
	c.mu.Unlock()
}

// Err returns the last error recorded on the context, or nil.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetError records err. No event is dispatched; use [Context.Fail] to record
// and announce an error in one step.
func (c *Context) SetError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Fail records err and dispatches [EventError].
func (c *Context) Fail(err error) {
	c.SetError(err)
	c.Dispatch(EventError)
}

// Message returns the last trace message and whether one has been set since
// the last reset.
func (c *Context) Message() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message, c.message != ""
}

// TraceThreshold returns the configured trace threshold.
func (c *Context) TraceThreshold() TraceLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

// CanTrace reports whether a message at level would be dispatched.
func (c *Context) CanTrace(level TraceLevel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return level >= c.threshold
}

// Trace formats a message and, if level passes the threshold, stores it as
// the current message and dispatches [EventTrace].
func (c *Context) Trace(level TraceLevel, format string, args ...any) {
	if !c.CanTrace(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.mu.Lock()
	c.message = msg
	c.mu.Unlock()
	c.Dispatch(EventTrace)
}

// TraceDebug traces at [TraceDebug].
func (c *Context) TraceDebug(format string, args ...any) { c.Trace(TraceDebug, format, args...) }

// TracePerf traces at [TracePerf].
func (c *Context) TracePerf(format string, args ...any) { c.Trace(TracePerf, format, args...) }

// TraceInfo traces at [TraceInfo].
func (c *Context) TraceInfo(format string, args ...any) { c.Trace(TraceInfo, format, args...) }

// Ring returns the frame history attached by the pipeline engine, or nil when
// the pipeline is not running. Stages may read it from the worker goroutine
// only.
func (c *Context) Ring() *audio.FrameRing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring
}

// AttachRing makes r available through [Context.Ring].
func (c *Context) AttachRing(r *audio.FrameRing) {
	c.mu.Lock()
	c.ring = r
	c.mu.Unlock()
}

// DetachRing drops the frame history reference.
func (c *Context) DetachRing() {
	c.AttachRing(nil)
}

// Reset returns the context to its initial state. An active context is
// deactivated first, which dispatches [EventDeactivate]. Listener
// registrations and the trace threshold are kept.
func (c *Context) Reset() {
	c.SetSpeech(false)
	c.SetActive(false)

	c.mu.Lock()
	c.managed = false
	c.transcript = ""
	c.confidence = 0
	c.err = nil
	c.message = ""
	c.mu.Unlock()
}
