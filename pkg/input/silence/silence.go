// Package silence provides an input that produces zero-filled frames at the
// real-time rate. It keeps a pipeline running without a capture device, which
// is useful for manual activation and for smoke tests.
package silence

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Name is the registry key of the input.
const Name = "silence"

// Input delivers one zero frame per frame width.
type Input struct {
	interval time.Duration
	next     time.Time
}

// New returns an input pacing frames every interval. A zero interval delivers
// frames as fast as they are read.
func New(interval time.Duration) (*Input, error) {
	if interval < 0 {
		return nil, fmt.Errorf("silence: negative interval %v", interval)
	}
	return &Input{interval: interval}, nil
}

// NewFromProperties paces frames at frame-width.
func NewFromProperties(p speech.Properties) (speech.Input, error) {
	width, err := p.Millis(speech.KeyFrameWidth, 0)
	if err != nil {
		return nil, fmt.Errorf("silence: %w", err)
	}
	return New(width)
}

// Read waits for the next frame slot and clears frame.
func (in *Input) Read(ctx context.Context, _ *speech.Context, frame *audio.Frame) error {
	if in.interval > 0 {
		now := time.Now()
		if in.next.IsZero() || in.next.Before(now.Add(-in.interval)) {
			// First read, or the reader fell behind by more than a frame.
			in.next = now
		}
		if wait := in.next.Sub(now); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		in.next = in.next.Add(in.interval)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	frame.Clear()
	return nil
}

// Close resets the pacing clock.
func (in *Input) Close() error {
	in.next = time.Time{}
	return nil
}

var _ speech.Input = (*Input)(nil)
