// Package audio defines the PCM frame types shared by every part of voxline.
//
// The two primary abstractions are:
//
//   - [Frame]: one fixed-width window of 16-bit little-endian mono PCM with
//     a read cursor, so several consumers can read it from the start in turn.
//   - [FrameRing]: a fixed-size circular history of frames. The pipeline
//     engine rotates it once per cycle to obtain the next write target, so no
//     frame is ever allocated after startup.
//
// The package also carries the sample-format helpers (resampling, channel
// conversion, float conversion) used by inputs that receive audio in a
// foreign format.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidRing is returned when a [FrameRing] is requested with an invalid
// frame size or frame count.
var ErrInvalidRing = errors.New("audio: invalid frame ring")

// Frame holds exactly one frame of 16-bit little-endian PCM. The backing slice
// never changes size; inputs overwrite it in place every cycle.
//
// Frame implements [io.Reader] over its payload. Readers advance a cursor that
// [Frame.Rewind] moves back to the start.
type Frame struct {
	data []byte
	off  int
}

// NewFrame returns a zero-filled frame of size bytes.
func NewFrame(size int) *Frame {
	return &Frame{data: make([]byte, size)}
}

// Bytes returns the frame payload. The slice aliases the frame storage, so
// writes through it modify the frame.
func (f *Frame) Bytes() []byte { return f.data }

// Len returns the frame size in bytes.
func (f *Frame) Len() int { return len(f.data) }

// Read implements [io.Reader], reading from the current cursor.
func (f *Frame) Read(p []byte) (int, error) {
	if f.off >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.off:])
	f.off += n
	return n, nil
}

// Rewind moves the read cursor back to the start of the frame.
func (f *Frame) Rewind() { f.off = 0 }

// Fill overwrites the whole frame with bytes read from r and rewinds it.
// A short read is reported as [io.ErrUnexpectedEOF].
func (f *Frame) Fill(r io.Reader) error {
	f.off = 0
	_, err := io.ReadFull(r, f.data)
	return err
}

// Clear zeroes the frame and rewinds it.
func (f *Frame) Clear() {
	clear(f.data)
	f.off = 0
}

// Samples decodes the frame into dst as int16 samples, growing dst if needed,
// and returns the resulting slice.
func (f *Frame) Samples(dst []int16) []int16 {
	n := len(f.data) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := range n {
		dst[i] = int16(binary.LittleEndian.Uint16(f.data[i*2:]))
	}
	return dst
}

// FrameRing is a fixed-size circular buffer of frames. It is not safe for
// concurrent use; the pipeline worker is its only writer.
type FrameRing struct {
	frames []*Frame
	head   int
}

// NewFrameRing allocates frameCount zero-filled frames of frameSize bytes.
// frameSize must be positive and even (whole int16 samples) and frameCount
// must be at least 1.
func NewFrameRing(frameSize, frameCount int) (*FrameRing, error) {
	if frameSize <= 0 || frameSize%2 != 0 {
		return nil, fmt.Errorf("%w: frame size %d must be a positive even number of bytes", ErrInvalidRing, frameSize)
	}
	if frameCount < 1 {
		return nil, fmt.Errorf("%w: frame count %d must be at least 1", ErrInvalidRing, frameCount)
	}
	r := &FrameRing{frames: make([]*Frame, frameCount)}
	for i := range r.frames {
		r.frames[i] = NewFrame(frameSize)
	}
	return r, nil
}

// Rotate removes the head (oldest) frame, appends it as the new tail and
// returns it as the next write target. It never allocates.
func (r *FrameRing) Rotate() *Frame {
	f := r.frames[r.head]
	r.head = (r.head + 1) % len(r.frames)
	f.Rewind()
	return f
}

// Tail returns the most recently rotated frame.
func (r *FrameRing) Tail() *Frame {
	return r.frames[(r.head+len(r.frames)-1)%len(r.frames)]
}

// Len returns the number of frames in the ring.
func (r *FrameRing) Len() int { return len(r.frames) }

// FrameSize returns the size in bytes of every frame in the ring.
func (r *FrameRing) FrameSize() int { return r.frames[0].Len() }

// Frames appends the ring contents to dst from oldest to newest and returns
// the extended slice. Passing a dst with enough capacity avoids allocation.
func (r *FrameRing) Frames(dst []*Frame) []*Frame {
	n := len(r.frames)
	for i := range n {
		dst = append(dst, r.frames[(r.head+i)%n])
	}
	return dst
}

// FrameBytes returns the size in bytes of one frame of frameWidth milliseconds
// of 16-bit mono PCM at sampleRate Hz.
func FrameBytes(sampleRate, frameWidth int) int {
	return sampleRate * frameWidth / 1000 * 2
}

// RingSizing derives the frame size and frame count for a ring covering
// bufferWidth milliseconds. The frame count is never below 1.
func RingSizing(sampleRate, frameWidth, bufferWidth int) (frameSize, frameCount int, err error) {
	if sampleRate <= 0 {
		return 0, 0, fmt.Errorf("%w: sample rate %d must be positive", ErrInvalidRing, sampleRate)
	}
	if frameWidth <= 0 {
		return 0, 0, fmt.Errorf("%w: frame width %d must be positive", ErrInvalidRing, frameWidth)
	}
	frameSize = FrameBytes(sampleRate, frameWidth)
	if frameSize <= 0 {
		return 0, 0, fmt.Errorf("%w: %d Hz at %d ms yields an empty frame", ErrInvalidRing, sampleRate, frameWidth)
	}
	return frameSize, max(bufferWidth/frameWidth, 1), nil
}
