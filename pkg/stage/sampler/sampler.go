// Package sampler records detected speech to disk as numbered WAV files.
//
// A file is opened on every rising edge of the context speech flag and closed
// on the falling edge. Files are named %05d.wav and the index wraps after
// sample-log-max-files, so the directory never holds more than that many
// samples.
package sampler

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Name is the registry key of the stage.
const Name = "speech-sampler"

// Property keys.
const (
	KeyPath     = "sample-log-path"
	KeyMaxFiles = "sample-log-max-files"
)

// DefaultMaxFiles bounds the number of retained samples.
const DefaultMaxFiles = 10

const (
	bitDepth        = 16
	numChannels     = 1
	audioFormatPCM  = 1
	filenamePattern = "%05d.wav"
)

// Stage writes speech segments to WAV files.
type Stage struct {
	dir        string
	maxFiles   int
	sampleRate int

	next    int
	file    *os.File
	enc     *wav.Encoder
	path    string
	samples []int16
	buf     goaudio.IntBuffer
	written []string
}

// New returns a sampler writing mono 16-bit WAV files at sampleRate into
// dir, which is created if it does not exist.
func New(dir string, maxFiles, sampleRate int) (*Stage, error) {
	if dir == "" {
		return nil, fmt.Errorf("sampler: %w: %q", speech.ErrMissingProperty, KeyPath)
	}
	if maxFiles <= 0 {
		return nil, fmt.Errorf("sampler: %s must be positive, got %d", KeyMaxFiles, maxFiles)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sampler: sample rate must be positive, got %d", sampleRate)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sampler: create %s: %w", dir, err)
	}
	return &Stage{
		dir:        dir,
		maxFiles:   maxFiles,
		sampleRate: sampleRate,
		buf: goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: numChannels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// NewFromProperties is the registry factory.
func NewFromProperties(p speech.Properties) (speech.Stage, error) {
	dir, err := p.String(KeyPath)
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	maxFiles, err := p.IntDefault(KeyMaxFiles, DefaultMaxFiles)
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	rate, err := p.Int(speech.KeySampleRate)
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	return New(dir, maxFiles, rate)
}

// Process follows the speech flag, opening, appending to or closing the
// current sample.
func (s *Stage) Process(sc *speech.Context, frame *audio.Frame) error {
	if !sc.IsSpeech() {
		if s.enc == nil {
			return nil
		}
		path := s.path
		if err := s.finish(); err != nil {
			return err
		}
		sc.TraceInfo("speech sample written to %s", path)
		return nil
	}
	if s.enc == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	s.samples = frame.Samples(s.samples)
	if cap(s.buf.Data) < len(s.samples) {
		s.buf.Data = make([]int, len(s.samples))
	}
	s.buf.Data = s.buf.Data[:len(s.samples)]
	for i, v := range s.samples {
		s.buf.Data[i] = int(v)
	}
	if err := s.enc.Write(&s.buf); err != nil {
		return fmt.Errorf("sampler: write %s: %w", s.path, err)
	}
	return nil
}

func (s *Stage) open() error {
	path := filepath.Join(s.dir, fmt.Sprintf(filenamePattern, s.next))
	s.next = (s.next + 1) % s.maxFiles
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	s.file = f
	s.path = path
	s.enc = wav.NewEncoder(f, s.sampleRate, bitDepth, numChannels, audioFormatPCM)
	slog.Debug("speech sample opened", "path", path)
	return nil
}

// finish closes the encoder, which patches the WAV header, and the file.
func (s *Stage) finish() error {
	if s.enc == nil {
		return nil
	}
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	// Older entries name files that rotation has already overwritten.
	if len(s.written) == s.maxFiles {
		s.written = slices.Delete(s.written, 0, 1)
	}
	s.written = append(s.written, s.path)
	s.enc, s.file, s.path = nil, nil, ""
	if err := errors.Join(encErr, fileErr); err != nil {
		return fmt.Errorf("sampler: close sample: %w", err)
	}
	return nil
}

// Written returns the paths of the most recent completed samples, at most
// max-files of them, oldest first.
func (s *Stage) Written() []string { return slices.Clone(s.written) }

// Recording reports whether a sample file is currently open.
func (s *Stage) Recording() bool { return s.enc != nil }

// Reset closes the current sample, if any.
func (s *Stage) Reset() error { return s.finish() }

// Close closes the current sample, if any.
func (s *Stage) Close() error { return s.finish() }

var _ speech.Stage = (*Stage)(nil)
