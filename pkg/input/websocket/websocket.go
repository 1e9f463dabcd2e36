// Package websocket receives audio from a remote peer over a WebSocket
// connection. Every binary message carries either raw 16-bit little-endian
// PCM or a single Opus packet. Messages of any length are converted to the
// pipeline format and re-sliced into frames. Text messages are ignored.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Name is the registry key of the input.
const Name = "websocket"

// Property keys.
const (
	KeyURL        = "input-url"
	KeyCodec      = "input-codec"
	KeySampleRate = "input-sample-rate"
	KeyChannels   = "input-channels"
)

// Codec identifies the payload of binary messages.
type Codec string

const (
	CodecPCM  Codec = "pcm"
	CodecOpus Codec = "opus"
)

const (
	// opusSampleRate is the decode rate used when the peer does not say.
	opusSampleRate = 48000
	// opusMaxFrameSize is the number of samples per channel in the longest
	// Opus packet (120 ms at 48 kHz).
	opusMaxFrameSize = 5760
	// readLimit bounds a single message.
	readLimit = 1 << 20
)

// ErrUnknownCodec is returned for an unsupported input-codec.
var ErrUnknownCodec = errors.New("websocket: unknown codec")

// Config describes the remote stream.
type Config struct {
	URL string
	// Codec defaults to [CodecPCM].
	Codec Codec
	// Source is the format of the peer's audio. A zero sample rate selects
	// the pipeline rate for PCM and 48 kHz for Opus; zero channels selects
	// mono.
	Source audio.Format
	// SampleRate is the pipeline sample rate.
	SampleRate int
}

// Input reads frames from a WebSocket connection, dialled on the first Read.
type Input struct {
	cfg    Config
	conn   *websocket.Conn
	decode func([]byte) ([]byte, error)
	conv   audio.FormatConverter
	asm    audio.Assembler
}

// New validates cfg and prepares the decoder. No connection is made until
// the first Read.
func New(cfg Config) (*Input, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket: %w: %q", speech.ErrMissingProperty, KeyURL)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("websocket: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Codec == "" {
		cfg.Codec = CodecPCM
	}
	if cfg.Source.Channels == 0 {
		cfg.Source.Channels = 1
	}
	if cfg.Source.Channels < 1 || cfg.Source.Channels > 2 {
		return nil, fmt.Errorf("websocket: %d channels not supported", cfg.Source.Channels)
	}

	in := &Input{}
	switch cfg.Codec {
	case CodecPCM:
		if cfg.Source.SampleRate == 0 {
			cfg.Source.SampleRate = cfg.SampleRate
		}
		in.decode = func(b []byte) ([]byte, error) { return b, nil }
	case CodecOpus:
		if cfg.Source.SampleRate == 0 {
			cfg.Source.SampleRate = opusSampleRate
		}
		dec, err := gopus.NewDecoder(cfg.Source.SampleRate, cfg.Source.Channels)
		if err != nil {
			return nil, fmt.Errorf("websocket: create opus decoder: %w", err)
		}
		in.decode = func(b []byte) ([]byte, error) {
			pcm, err := dec.Decode(b, opusMaxFrameSize, false)
			if err != nil {
				return nil, fmt.Errorf("websocket: opus decode: %w", err)
			}
			return audio.Int16sToBytes(pcm), nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, cfg.Codec)
	}
	in.cfg = cfg
	in.conv.Target = audio.Format{SampleRate: cfg.SampleRate, Channels: 1}
	return in, nil
}

// NewFromProperties is the registry factory.
func NewFromProperties(p speech.Properties) (speech.Input, error) {
	url, err := p.String(KeyURL)
	if err != nil {
		return nil, fmt.Errorf("websocket: %w", err)
	}
	rate, err := p.Int(speech.KeySampleRate)
	if err != nil {
		return nil, fmt.Errorf("websocket: %w", err)
	}
	srcRate, err := p.IntDefault(KeySampleRate, 0)
	if err != nil {
		return nil, fmt.Errorf("websocket: %w", err)
	}
	channels, err := p.IntDefault(KeyChannels, 1)
	if err != nil {
		return nil, fmt.Errorf("websocket: %w", err)
	}
	return New(Config{
		URL:        url,
		Codec:      Codec(strings.ToLower(p.StringDefault(KeyCodec, string(CodecPCM)))),
		Source:     audio.Format{SampleRate: srcRate, Channels: channels},
		SampleRate: rate,
	})
}

// Read fills frame from buffered audio, receiving messages as needed. A
// closed or failed connection is returned as an error.
func (in *Input) Read(ctx context.Context, sc *speech.Context, frame *audio.Frame) error {
	if in.conn == nil {
		conn, _, err := websocket.Dial(ctx, in.cfg.URL, nil)
		if err != nil {
			return fmt.Errorf("websocket: dial: %w", err)
		}
		conn.SetReadLimit(readLimit)
		in.conn = conn
		slog.Info("websocket input connected", "url", in.cfg.URL, "codec", in.cfg.Codec, "format", in.cfg.Source.String())
	}
	for !in.asm.Next(frame) {
		typ, msg, err := in.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("websocket: read: %w", err)
		}
		if typ != websocket.MessageBinary {
			sc.TraceDebug("websocket: ignoring %d byte text message", len(msg))
			continue
		}
		pcm, err := in.decode(msg)
		if err != nil {
			return err
		}
		c := in.conv.Convert(audio.Chunk{Data: pcm, Format: in.cfg.Source})
		in.asm.Write(c.Data)
	}
	return nil
}

// Close closes the connection, if one was made.
func (in *Input) Close() error {
	if in.conn == nil {
		return nil
	}
	err := in.conn.Close(websocket.StatusNormalClosure, "input closed")
	in.conn = nil
	in.asm.Reset()
	// A cancelled Read has already torn the connection down.
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

var _ speech.Input = (*Input)(nil)
