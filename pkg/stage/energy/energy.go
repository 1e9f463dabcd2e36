// Package energy is a pure Go speech classifier: a frame counts as speech
// when its RMS level, normalised to full scale, reaches a threshold.
package energy

import (
	"fmt"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Name is the registry key of the stage.
const Name = "energy-vad"

// KeyThreshold is the normalised RMS level in (0, 1] treated as speech.
const KeyThreshold = "energy-threshold"

// DefaultThreshold is roughly -40 dBFS.
const DefaultThreshold = 0.01

// Stage sets the context speech flag from frame energy.
type Stage struct {
	threshold float64
	level     float64
}

// New returns a classifier with the given threshold.
func New(threshold float64) (*Stage, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("energy: threshold %v must be in (0, 1]", threshold)
	}
	return &Stage{threshold: threshold}, nil
}

// NewFromProperties is the registry factory.
func NewFromProperties(p speech.Properties) (speech.Stage, error) {
	th, err := p.FloatDefault(KeyThreshold, DefaultThreshold)
	if err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	return New(th)
}

// Process classifies the frame.
func (s *Stage) Process(sc *speech.Context, frame *audio.Frame) error {
	s.level = audio.RMS(frame.Bytes())
	sc.SetSpeech(s.level >= s.threshold)
	return nil
}

// Level returns the normalised RMS of the last processed frame.
func (s *Stage) Level() float64 { return s.level }

// Reset clears the last level.
func (s *Stage) Reset() error {
	s.level = 0
	return nil
}

// Close releases nothing.
func (s *Stage) Close() error { return nil }

var _ speech.Stage = (*Stage)(nil)
