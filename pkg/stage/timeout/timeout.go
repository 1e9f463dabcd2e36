// Package timeout bounds how long an activation may last.
//
// The guard counts consecutive active frames. Reaching wake-active-max ends
// the activation through [speech.Context.Timeout], which announces TIMEOUT
// rather than DEACTIVATE. With speech-fall enforcement enabled the guard also
// ends the activation when the raw speech flag falls, but only once
// wake-active-min has elapsed. The minimum never delays or overrides a
// deactivation made by another stage, and the guard never re-activates.
package timeout

import (
	"fmt"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Name is the registry key of the guard.
const Name = "activation-timeout"

// KeySpeechFall enables deactivation on a falling speech edge once the
// minimum hold has elapsed.
const KeySpeechFall = "wake-speech-fall"

// Default bounds in milliseconds.
const (
	DefaultActiveMin = 500
	DefaultActiveMax = 5000
)

// Guard is the activation timeout stage.
type Guard struct {
	minFrames   int
	maxFrames   int
	speechFall  bool
	activeCount int
	wasSpeech   bool
}

// Option configures a [Guard].
type Option func(*Guard)

// WithSpeechFall enables deactivation on a falling speech edge after the
// minimum hold.
func WithSpeechFall(enabled bool) Option {
	return func(g *Guard) { g.speechFall = enabled }
}

// New returns a guard with bounds expressed in frames.
func New(minFrames, maxFrames int, opts ...Option) (*Guard, error) {
	if minFrames < 0 || maxFrames < 0 {
		return nil, fmt.Errorf("timeout: negative bound (min %d, max %d)", minFrames, maxFrames)
	}
	g := &Guard{minFrames: minFrames, maxFrames: maxFrames}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// NewFromProperties builds a guard from wake-active-min and wake-active-max
// (ms), converted to frames using frame-width.
func NewFromProperties(p speech.Properties) (speech.Stage, error) {
	minFrames, err := p.FrameLength(speech.KeyWakeActiveMin, DefaultActiveMin)
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	maxFrames, err := p.FrameLength(speech.KeyWakeActiveMax, DefaultActiveMax)
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	fall, err := p.Bool(KeySpeechFall, false)
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	return New(minFrames, maxFrames, WithSpeechFall(fall))
}

// Bounds returns the minimum and maximum activation lengths in frames.
func (g *Guard) Bounds() (minFrames, maxFrames int) { return g.minFrames, g.maxFrames }

// Process advances the active frame count and enforces the bounds.
func (g *Guard) Process(sc *speech.Context, _ *audio.Frame) error {
	speaking := sc.IsSpeech()
	fell := g.wasSpeech && !speaking
	g.wasSpeech = speaking

	if !sc.IsActive() {
		g.activeCount = 0
		return nil
	}
	g.activeCount++

	if g.activeCount >= g.maxFrames {
		g.activeCount = 0
		sc.Timeout()
		return nil
	}
	if g.speechFall && fell && g.activeCount >= g.minFrames {
		g.activeCount = 0
		sc.SetActive(false)
	}
	return nil
}

// ActiveCount returns the number of consecutive active frames seen.
func (g *Guard) ActiveCount() int { return g.activeCount }

// Reset clears the active frame count and the speech edge tracker.
func (g *Guard) Reset() error {
	g.activeCount = 0
	g.wasSpeech = false
	return nil
}

// Close releases nothing; the guard holds no resources.
func (g *Guard) Close() error { return g.Reset() }

var _ speech.Stage = (*Guard)(nil)
