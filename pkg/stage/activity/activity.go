// Package activity provides the hysteresis filter that turns the noisy
// per-frame speech decision into debounced activation edges.
//
// The filter keeps a run length of identical raw decisions. A rise to speech
// activates the context once the run reaches rise-delay worth of frames; a
// fall to silence deactivates it once the run reaches fall-delay worth. A
// delay of zero reacts on the first differing frame.
//
// When another stage ends an activation while speech continues, as the
// timeout guard does, the filter waits for speech to fall before it may
// activate again. A single long utterance therefore yields one activation.
package activity

import (
	"fmt"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Name is the registry key of the filter.
const Name = "activity-filter"

// Default delays in milliseconds.
const (
	DefaultRiseDelay = 0
	DefaultFallDelay = 500
)

// Filter is the hysteresis stage. It reads [speech.Context.IsSpeech] and
// drives [speech.Context.SetActive].
type Filter struct {
	riseLength int
	fallLength int

	current   bool
	runLength int

	// wasActive is the context flag as the filter left it on the last frame.
	wasActive bool
	// held blocks activation until the raw decision falls.
	held bool
}

// New returns a filter with explicit thresholds expressed in frames.
func New(riseLength, fallLength int) (*Filter, error) {
	if riseLength < 0 || fallLength < 0 {
		return nil, fmt.Errorf("activity: negative threshold (rise %d, fall %d)", riseLength, fallLength)
	}
	return &Filter{riseLength: riseLength, fallLength: fallLength}, nil
}

// NewFromProperties builds a filter from rise-delay and fall-delay (ms),
// converted to frames using frame-width.
func NewFromProperties(p speech.Properties) (speech.Stage, error) {
	rise, err := p.FrameLength(speech.KeyRiseDelay, DefaultRiseDelay)
	if err != nil {
		return nil, fmt.Errorf("activity: %w", err)
	}
	fall, err := p.FrameLength(speech.KeyFallDelay, DefaultFallDelay)
	if err != nil {
		return nil, fmt.Errorf("activity: %w", err)
	}
	return New(rise, fall)
}

// Thresholds returns the rise and fall lengths in frames.
func (f *Filter) Thresholds() (rise, fall int) { return f.riseLength, f.fallLength }

// Process folds the current raw decision into the run and emits an edge when
// the run crosses the threshold for its direction.
func (f *Filter) Process(sc *speech.Context, _ *audio.Frame) error {
	raw := sc.IsSpeech()
	active := sc.IsActive()
	if f.wasActive && !active && f.current && raw {
		f.held = true
	}
	if !raw {
		f.held = false
	}
	if raw != f.current {
		f.current = raw
		f.runLength = 0
	}
	f.runLength++

	if f.current != active {
		if f.current && !f.held && f.runLength >= f.riseLength {
			sc.SetActive(true)
		} else if !f.current && f.runLength >= f.fallLength {
			sc.SetActive(false)
		}
	}
	f.wasActive = sc.IsActive()
	return nil
}

// Reset clears the run state. The context activation flag is left alone.
func (f *Filter) Reset() error {
	f.current = false
	f.runLength = 0
	f.wasActive = false
	f.held = false
	return nil
}

// Close releases nothing; the filter holds no resources.
func (f *Filter) Close() error { return f.Reset() }

var _ speech.Stage = (*Filter)(nil)
