package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Chunk is a variable-length block of 16-bit little-endian PCM as delivered by
// a source (a websocket message, a decoded Opus packet, a WAV read). Inputs
// convert chunks to the pipeline format and slice them into [Frame]s.
type Chunk struct {
	Data   []byte
	Format Format
}

// FormatConverter converts chunks to a target format. It logs a warning on the
// first format mismatch and on the first misaligned chunk. Create one per
// stream; it is not meant to be shared across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns c in the target format. A chunk already in the target format
// is returned unchanged without allocation. Chunks with an odd byte count are
// dropped: the result carries the target format and no data.
func (fc *FormatConverter) Convert(c Chunk) Chunk {
	if len(c.Data)%2 != 0 {
		fc.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM chunk, dropping",
				"bytes", len(c.Data),
				"format", c.Format.String(),
			)
		})
		return Chunk{Format: fc.Target}
	}
	if c.Format == fc.Target {
		return c
	}
	fc.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", c.Format.String(),
			"to", fc.Target.String(),
		)
	})

	pcm := c.Data
	channels := c.Format.Channels

	// Downmix before resampling so mono targets resample half the data.
	if channels == 2 && fc.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
		channels = 1
	}
	if c.Format.SampleRate != fc.Target.SampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, c.Format.SampleRate, fc.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, c.Format.SampleRate, fc.Target.SampleRate)
		}
	}
	if channels == 1 && fc.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return Chunk{Data: pcm, Format: fc.Target}
}

// MonoToStereo duplicates every mono sample into an L+R pair. A trailing odd
// byte is ignored.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := pcm[i*2 : i*2+2]
		copy(out[i*4:], s)
		copy(out[i*4+2:], s)
	}
	return out
}

// StereoToMono averages each L+R pair into one mono sample.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16((l+r)/2)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate with linear
// interpolation. Non-positive or equal rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 resamples interleaved 16-bit stereo PCM from srcRate to
// dstRate with linear interpolation. Non-positive or equal rates return pcm
// unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 2, srcRate, dstRate)
}

func resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	stride := 2 * channels
	srcFrames := len(pcm) / stride
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) float64 {
		if frame >= srcFrames {
			frame = srcFrames - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[frame*stride+ch*2:])))
	}

	out := make([]byte, dstFrames*stride)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		for ch := range channels {
			v := sample(idx, ch)*(1-frac) + sample(idx+1, ch)*frac
			binary.LittleEndian.PutUint16(out[i*stride+ch*2:], uint16(int16(v)))
		}
	}
	return out
}

// Int16sToBytes encodes samples as 16-bit little-endian PCM.
func Int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// AppendFloat32 decodes 16-bit little-endian PCM into float32 samples in
// [-1, 1) and appends them to dst.
func AppendFloat32(dst []float32, pcm []byte) []float32 {
	for i := 0; i+1 < len(pcm); i += 2 {
		dst = append(dst, float32(int16(binary.LittleEndian.Uint16(pcm[i:])))/32768.0)
	}
	return dst
}

// RMS returns the root-mean-square amplitude of 16-bit PCM, normalised to
// [0, 1]. Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
