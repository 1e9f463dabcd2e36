package speech

import (
	"fmt"
	"strconv"
	"strings"
)

// Event identifies a state change announced on a [Context] event bus.
type Event int

const (
	// EventActivate is dispatched when the context flips from inactive to active.
	EventActivate Event = iota + 1

	// EventDeactivate is dispatched when the context flips from active to inactive.
	EventDeactivate

	// EventRecognize is dispatched by a recogniser stage once a transcript is
	// available on the context.
	EventRecognize

	// EventTimeout is dispatched instead of EventDeactivate when an activation
	// is ended by the timeout guard.
	EventTimeout

	// EventError is dispatched when an input or stage fails. The error is
	// available through [Context.Err].
	EventError

	// EventTrace is dispatched for every trace message that passes the
	// configured [TraceLevel] threshold.
	EventTrace
)

var eventNames = map[Event]string{
	EventActivate:   "activate",
	EventDeactivate: "deactivate",
	EventRecognize:  "recognize",
	EventTimeout:    "timeout",
	EventError:      "error",
	EventTrace:      "trace",
}

// String returns the lower-case event name, e.g. "activate".
func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "event(" + strconv.Itoa(int(e)) + ")"
}

// MarshalText implements [encoding.TextMarshaler].
func (e Event) MarshalText() ([]byte, error) {
	if _, ok := eventNames[e]; !ok {
		return nil, fmt.Errorf("speech: unknown event %d", int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (e *Event) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for ev, s := range eventNames {
		if s == name {
			*e = ev
			return nil
		}
	}
	return fmt.Errorf("speech: unknown event %q", string(b))
}

// TraceLevel orders trace messages by verbosity. A message is dispatched only
// when its level is at or above the context threshold.
type TraceLevel int

const (
	TraceDebug TraceLevel = 10
	TracePerf  TraceLevel = 20
	TraceInfo  TraceLevel = 30

	// TraceNone as a threshold suppresses every trace message.
	TraceNone TraceLevel = 100
)

// String returns the lower-case level name.
func (l TraceLevel) String() string {
	switch l {
	case TraceDebug:
		return "debug"
	case TracePerf:
		return "perf"
	case TraceInfo:
		return "info"
	case TraceNone:
		return "none"
	}
	return strconv.Itoa(int(l))
}

// ParseTraceLevel accepts a level name (debug, perf, info, none; any case) or
// its numeric value.
func ParseTraceLevel(s string) (TraceLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return TraceDebug, nil
	case "perf":
		return TracePerf, nil
	case "info":
		return TraceInfo, nil
	case "none":
		return TraceNone, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("speech: invalid trace level %q; valid values: debug, perf, info, none", s)
	}
	return TraceLevel(n), nil
}
