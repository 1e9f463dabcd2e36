package speech

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"time"
)

// Recognised property keys shared by the engine and the built-in stages.
const (
	KeySampleRate    = "sample-rate"
	KeyFrameWidth    = "frame-width"
	KeyBufferWidth   = "buffer-width"
	KeyRiseDelay     = "rise-delay"
	KeyFallDelay     = "fall-delay"
	KeyWakeActiveMin = "wake-active-min"
	KeyWakeActiveMax = "wake-active-max"
	KeyTraceLevel    = "trace-level"
)

// ErrMissingProperty is returned when a required property is absent.
var ErrMissingProperty = errors.New("speech: missing property")

// Properties is the flat key/value configuration handed to component
// factories. Values are the scalars produced by a YAML decoder: int, float64,
// string or bool. Numeric getters also accept numeric strings.
type Properties map[string]any

// Clone returns a shallow copy of p that can be modified independently.
func (p Properties) Clone() Properties {
	if p == nil {
		return Properties{}
	}
	return maps.Clone(p)
}

// Has reports whether key is set.
func (p Properties) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Int returns the integer value of key.
func (p Properties) Int(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingProperty, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("speech: property %q: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("speech: property %q: %w", key, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("speech: property %q: unsupported type %T", key, v)
}

// IntDefault returns the integer value of key, or def when key is absent.
func (p Properties) IntDefault(key string, def int) (int, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.Int(key)
}

// Float returns the floating-point value of key.
func (p Properties) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingProperty, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("speech: property %q: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("speech: property %q: unsupported type %T", key, v)
}

// FloatDefault returns the floating-point value of key, or def when absent.
func (p Properties) FloatDefault(key string, def float64) (float64, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.Float(key)
}

// String returns the string value of key. Non-string scalars are formatted.
func (p Properties) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingProperty, key)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// StringDefault returns the string value of key, or def when absent.
func (p Properties) StringDefault(key, def string) string {
	s, err := p.String(key)
	if err != nil {
		return def
	}
	return s
}

// Bool returns the boolean value of key, or def when absent.
func (p Properties) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("speech: property %q: %w", key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("speech: property %q: unsupported type %T", key, v)
}

// Millis returns an integer millisecond property as a [time.Duration], or def
// when absent.
func (p Properties) Millis(key string, def time.Duration) (time.Duration, error) {
	if !p.Has(key) {
		return def, nil
	}
	ms, err := p.Int(key)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// TraceLevel returns the parsed [KeyTraceLevel] value, or [TraceNone] when it
// is absent.
func (p Properties) TraceLevel() (TraceLevel, error) {
	v, ok := p[KeyTraceLevel]
	if !ok {
		return TraceNone, nil
	}
	switch l := v.(type) {
	case int:
		return TraceLevel(l), nil
	case TraceLevel:
		return l, nil
	}
	s, _ := p.String(KeyTraceLevel)
	return ParseTraceLevel(s)
}

// FrameLength converts the millisecond property key into a number of frames
// of frame-width milliseconds, using def when the property is absent.
func (p Properties) FrameLength(key string, def int) (int, error) {
	width, err := p.Int(KeyFrameWidth)
	if err != nil {
		return 0, err
	}
	if width <= 0 {
		return 0, fmt.Errorf("speech: property %q must be positive, got %d", KeyFrameWidth, width)
	}
	ms, err := p.IntDefault(key, def)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("speech: property %q must not be negative, got %d", key, ms)
	}
	return ms / width, nil
}
