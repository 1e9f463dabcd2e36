// Package vad classifies frames with the WebRTC voice activity detector.
//
// The stage only writes the raw speech flag of the context. Turning that flag
// into activations is left to the activity filter.
package vad

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hackers365/go-webrtcvad"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Name is the registry key of the stage.
const Name = "webrtc-vad"

// KeyMode selects the detector aggressiveness.
const KeyMode = "vad-mode"

// Mode is the WebRTC VAD aggressiveness. Higher modes reject more non-speech.
type Mode int

const (
	ModeQuality Mode = iota
	ModeLowBitrate
	ModeAggressive
	ModeVeryAggressive
)

var modeNames = []string{"quality", "low-bitrate", "aggressive", "very-aggressive"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode accepts a mode name or its number (0-3).
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := slices.Index(modeNames, s); i >= 0 {
		return Mode(i), nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(modeNames) {
		return Mode(n), nil
	}
	return 0, fmt.Errorf("vad: unknown mode %q; valid values: %s", s, strings.Join(modeNames, ", "))
}

var (
	validRates  = []int{8000, 16000, 32000, 48000}
	validWidths = []int{10, 20, 30}
)

// Config holds validated detector settings.
type Config struct {
	SampleRate int
	FrameWidth int
	Mode       Mode
}

// ConfigFromProperties reads and validates the detector settings.
func ConfigFromProperties(p speech.Properties) (Config, error) {
	rate, err := p.Int(speech.KeySampleRate)
	if err != nil {
		return Config{}, fmt.Errorf("vad: %w", err)
	}
	if !slices.Contains(validRates, rate) {
		return Config{}, fmt.Errorf("vad: sample rate %d unsupported; valid values: %v", rate, validRates)
	}
	width, err := p.Int(speech.KeyFrameWidth)
	if err != nil {
		return Config{}, fmt.Errorf("vad: %w", err)
	}
	if !slices.Contains(validWidths, width) {
		return Config{}, fmt.Errorf("vad: frame width %d ms unsupported; valid values: %v", width, validWidths)
	}
	mode, err := ParseMode(p.StringDefault(KeyMode, ModeVeryAggressive.String()))
	if err != nil {
		return Config{}, err
	}
	return Config{SampleRate: rate, FrameWidth: width, Mode: mode}, nil
}

// Stage sets the context speech flag from the WebRTC VAD decision for every
// frame.
type Stage struct {
	cfg Config
	vad *webrtcvad.VAD
}

// New allocates a detector. The caller must Close the stage.
func New(cfg Config) (*Stage, error) {
	v, err := webrtcvad.New()
	if err != nil || v == nil {
		return nil, fmt.Errorf("vad: create detector: %w", err)
	}
	if err := v.SetMode(int(cfg.Mode)); err != nil {
		webrtcvad.Free(v)
		return nil, fmt.Errorf("vad: set mode %s: %w", cfg.Mode, err)
	}
	return &Stage{cfg: cfg, vad: v}, nil
}

// NewFromProperties is the registry factory.
func NewFromProperties(p speech.Properties) (speech.Stage, error) {
	cfg, err := ConfigFromProperties(p)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Process classifies the frame.
func (s *Stage) Process(sc *speech.Context, frame *audio.Frame) error {
	active, err := s.vad.Process(s.cfg.SampleRate, frame.Bytes())
	if err != nil {
		return fmt.Errorf("vad: process frame: %w", err)
	}
	sc.SetSpeech(active)
	return nil
}

// Reset does nothing; the detector keeps no per-utterance state worth
// clearing.
func (s *Stage) Reset() error { return nil }

// Close frees the detector. It is safe to call more than once.
func (s *Stage) Close() error {
	if s.vad != nil {
		webrtcvad.Free(s.vad)
		s.vad = nil
	}
	return nil
}

var _ speech.Stage = (*Stage)(nil)
