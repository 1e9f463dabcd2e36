// Package portaudio captures mono 16-bit audio from the default input device.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Name is the registry key of the input.
const Name = "portaudio"

// stream is the subset of *pa.Stream the input drives.
type stream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// Input reads frames from a blocking PortAudio stream whose buffer holds
// exactly one frame.
type Input struct {
	s         stream
	buf       []int16
	started   bool
	terminate func() error
}

// New initialises PortAudio and opens the default input device at
// sampleRate, delivering frameWidth milliseconds per read.
func New(sampleRate, frameWidth int) (*Input, error) {
	samples := audio.FrameBytes(sampleRate, frameWidth) / 2
	if samples <= 0 {
		return nil, fmt.Errorf("portaudio: %d Hz at %d ms yields an empty frame", sampleRate, frameWidth)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initializing portaudio failed: %w", err)
	}
	buf := make([]int16, samples)
	s, err := pa.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: opening default stream failed: %w", err)
	}
	slog.Debug("portaudio: opened default stream", "sample_rate", sampleRate, "frames_per_buffer", samples)
	return &Input{s: s, buf: buf, terminate: pa.Terminate}, nil
}

// NewFromProperties is the registry factory.
func NewFromProperties(p speech.Properties) (speech.Input, error) {
	rate, err := p.Int(speech.KeySampleRate)
	if err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	width, err := p.Int(speech.KeyFrameWidth)
	if err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	return New(rate, width)
}

// Read blocks until the device has delivered one frame. The stream is started
// on the first call.
func (in *Input) Read(ctx context.Context, _ *speech.Context, frame *audio.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(in.buf)*2 != frame.Len() {
		return fmt.Errorf("portaudio: frame of %d bytes does not match stream buffer of %d samples", frame.Len(), len(in.buf))
	}
	if !in.started {
		if err := in.s.Start(); err != nil {
			return fmt.Errorf("portaudio: starting stream failed: %w", err)
		}
		in.started = true
	}
	if err := in.s.Read(); err != nil {
		return fmt.Errorf("portaudio: reading from stream failed: %w", err)
	}
	b := frame.Bytes()
	for i, v := range in.buf {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	frame.Rewind()
	return nil
}

// Close stops and closes the stream and terminates PortAudio.
func (in *Input) Close() error {
	var errs []error
	if in.started {
		if err := in.s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stopping stream failed: %w", err))
		}
		in.started = false
	}
	if err := in.s.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: closing stream failed: %w", err))
	}
	if in.terminate != nil {
		if err := in.terminate(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: terminating portaudio failed: %w", err))
		}
		in.terminate = nil
	}
	return errors.Join(errs...)
}

var _ speech.Input = (*Input)(nil)
