// Package wavfile feeds the pipeline from a 16-bit PCM WAV file. Audio is
// converted to the pipeline sample rate and to mono as it is read.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Name is the registry key of the input.
const Name = "wav-file"

// Property keys.
const (
	KeyFile = "input-file"
	KeyLoop = "input-loop"
)

// readChunk is the number of samples decoded per file read.
const readChunk = 4096

// ErrUnsupportedFormat is returned for WAV files that are not 16-bit PCM.
var ErrUnsupportedFormat = errors.New("wavfile: unsupported format")

// Input reads frames from a WAV file. Reaching the end of the file is an
// input error unless looping is enabled.
type Input struct {
	path string
	loop bool

	f    *os.File
	dec  *wav.Decoder
	src  audio.Format
	conv audio.FormatConverter
	asm  audio.Assembler
	buf  goaudio.IntBuffer
	pcm  []int16
}

// Option configures an [Input].
type Option func(*Input)

// WithLoop restarts the file from the beginning when it ends.
func WithLoop(loop bool) Option {
	return func(in *Input) { in.loop = loop }
}

// Open opens path and validates its header. sampleRate is the pipeline
// sample rate frames are converted to.
func Open(path string, sampleRate int, opts ...Option) (*Input, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wavfile: sample rate must be positive, got %d", sampleRate)
	}
	in := &Input{path: path}
	in.conv.Target = audio.Format{SampleRate: sampleRate, Channels: 1}
	for _, o := range opts {
		o(in)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}
	in.f = f
	if err := in.rewind(); err != nil {
		_ = f.Close()
		return nil, err
	}
	slog.Debug("wavfile: opened", "path", path, "format", in.src.String(), "loop", in.loop)
	return in, nil
}

// NewFromProperties is the registry factory.
func NewFromProperties(p speech.Properties) (speech.Input, error) {
	path, err := p.String(KeyFile)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}
	rate, err := p.Int(speech.KeySampleRate)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}
	loop, err := p.Bool(KeyLoop, false)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}
	return Open(path, rate, WithLoop(loop))
}

// rewind positions a fresh decoder at the start of the sample data.
func (in *Input) rewind() error {
	if _, err := in.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wavfile: seek %s: %w", in.path, err)
	}
	dec := wav.NewDecoder(in.f)
	if !dec.IsValidFile() {
		return fmt.Errorf("wavfile: %s is not a valid WAV file", in.path)
	}
	dec.ReadInfo()
	if dec.WavAudioFormat != 1 || dec.BitDepth != 16 {
		return fmt.Errorf("%w: %s has format %d at %d bits, want 16-bit PCM",
			ErrUnsupportedFormat, in.path, dec.WavAudioFormat, dec.BitDepth)
	}
	format := dec.Format()
	if format.NumChannels < 1 || format.NumChannels > 2 {
		return fmt.Errorf("%w: %s has %d channels", ErrUnsupportedFormat, in.path, format.NumChannels)
	}
	in.dec = dec
	in.src = audio.Format{SampleRate: format.SampleRate, Channels: format.NumChannels}
	in.buf = goaudio.IntBuffer{
		Data:   make([]int, readChunk*format.NumChannels),
		Format: format,
	}
	return nil
}

// Read fills frame with the next converted samples.
func (in *Input) Read(ctx context.Context, sc *speech.Context, frame *audio.Frame) error {
	for !in.asm.Next(frame) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := in.dec.PCMBuffer(&in.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("wavfile: read %s: %w", in.path, err)
		}
		if n == 0 {
			if !in.loop {
				return fmt.Errorf("wavfile: %s: %w", in.path, io.EOF)
			}
			sc.TraceDebug("wavfile: looping %s", in.path)
			if err := in.rewind(); err != nil {
				return err
			}
			continue
		}
		in.pcm = in.pcm[:0]
		for _, v := range in.buf.Data[:n] {
			in.pcm = append(in.pcm, int16(v))
		}
		c := in.conv.Convert(audio.Chunk{Data: audio.Int16sToBytes(in.pcm), Format: in.src})
		in.asm.Write(c.Data)
	}
	return nil
}

// Format returns the format of the file.
func (in *Input) Format() audio.Format { return in.src }

// Close closes the file.
func (in *Input) Close() error {
	if in.f == nil {
		return nil
	}
	err := in.f.Close()
	in.f = nil
	return err
}

var _ speech.Input = (*Input)(nil)
