package audio_test

import (
	"encoding/binary"
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/voxline/pkg/audio"
)

var (
	mono8k    = audio.Format{SampleRate: 8000, Channels: 1}
	mono16k   = audio.Format{SampleRate: 16000, Channels: 1}
	stereo16k = audio.Format{SampleRate: 16000, Channels: 2}
)

func pcm(samples ...int16) []byte { return audio.Int16sToBytes(samples) }

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{mono16k, "16000Hz mono"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
		{audio.Format{SampleRate: 8000}, "8000Hz mono"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.f, got, tt.want)
		}
	}
}

func TestFormatConverter_Convert(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		target audio.Format
		in     audio.Chunk
		want   []int16
	}{
		{
			name:   "downmix then downsample",
			target: mono8k,
			in:     audio.Chunk{Data: pcm(10, 30, 20, 40, 50, 70, 60, 80), Format: stereo16k},
			want:   []int16{20, 60},
		},
		{
			name:   "upsample then duplicate",
			target: stereo16k,
			in:     audio.Chunk{Data: pcm(0, 100), Format: mono8k},
			want:   []int16{0, 0, 50, 50, 100, 100, 100, 100},
		},
		{
			name:   "channels only",
			target: audio.Format{SampleRate: 8000, Channels: 2},
			in:     audio.Chunk{Data: pcm(7, -7), Format: mono8k},
			want:   []int16{7, 7, -7, -7},
		},
		{
			name:   "rate only",
			target: mono8k,
			in:     audio.Chunk{Data: pcm(0, 10, 20, 30), Format: mono16k},
			want:   []int16{0, 20},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fc := &audio.FormatConverter{Target: tt.target}
			got := fc.Convert(tt.in)
			if got.Format != tt.target {
				t.Errorf("Format = %v, want %v", got.Format, tt.target)
			}
			if s := samples(got.Data); !slices.Equal(s, tt.want) {
				t.Errorf("samples = %v, want %v", s, tt.want)
			}
		})
	}
}

func TestFormatConverter_PassThrough(t *testing.T) {
	t.Parallel()
	fc := &audio.FormatConverter{Target: mono16k}
	in := audio.Chunk{Data: pcm(1, 2, 3), Format: mono16k}

	got := fc.Convert(in)
	if &got.Data[0] != &in.Data[0] {
		t.Error("matching chunk was copied")
	}
}

func TestFormatConverter_DropsOddChunk(t *testing.T) {
	t.Parallel()
	fc := &audio.FormatConverter{Target: mono16k}

	// Reported twice to cover the warn-once path.
	for range 2 {
		got := fc.Convert(audio.Chunk{Data: []byte{1, 2, 3}, Format: stereo16k})
		if got.Format != mono16k || len(got.Data) != 0 {
			t.Errorf("Convert(odd) = %+v, want an empty %v chunk", got, mono16k)
		}
	}
}

func TestChannelMixing(t *testing.T) {
	t.Parallel()

	up := samples(audio.MonoToStereo(pcm(-3, 9)))
	if want := []int16{-3, -3, 9, 9}; !slices.Equal(up, want) {
		t.Errorf("MonoToStereo = %v, want %v", up, want)
	}
	if got := audio.MonoToStereo([]byte{1}); len(got) != 0 {
		t.Errorf("MonoToStereo(1 byte) = %v, want empty", got)
	}

	down := samples(audio.StereoToMono(pcm(100, 200, -100, -300, math.MaxInt16, math.MaxInt16, math.MinInt16, math.MinInt16)))
	if want := []int16{150, -200, math.MaxInt16, math.MinInt16}; !slices.Equal(down, want) {
		t.Errorf("StereoToMono = %v, want %v", down, want)
	}
}

func TestResample(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		stereo   bool
		in       []int16
		src, dst int
		want     []int16
	}{
		{"mono up", false, []int16{0, 100, 200, 300}, 8000, 16000, []int16{0, 50, 100, 150, 200, 250, 300, 300}},
		{"mono down", false, []int16{0, 10, 20, 30, 40, 50}, 16000, 8000, []int16{0, 20, 40}},
		{"stereo up", true, []int16{0, 1000, 100, 2000}, 8000, 16000, []int16{0, 1000, 50, 1500, 100, 2000, 100, 2000}},
		{"equal rates", false, []int16{4, 5}, 16000, 16000, []int16{4, 5}},
		{"zero source rate", false, []int16{4, 5}, 0, 16000, []int16{4, 5}},
		{"negative target rate", true, []int16{4, 5}, 16000, -1, []int16{4, 5}},
		{"too short to keep a frame", false, []int16{42}, 48000, 8000, []int16{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resample := audio.ResampleMono16
			if tt.stereo {
				resample = audio.ResampleStereo16
			}
			if got := samples(resample(pcm(tt.in...), tt.src, tt.dst)); !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, 0},
		{"silence", pcm(0, 0, 0), 0},
		{"full scale", pcm(math.MinInt16, math.MinInt16), 1},
		{"half scale square", pcm(16384, -16384, 16384, -16384), 0.5},
	}
	for _, tt := range tests {
		if got := audio.RMS(tt.pcm); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: RMS = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAppendFloat32(t *testing.T) {
	t.Parallel()

	got := audio.AppendFloat32([]float32{9}, append(pcm(16384, math.MinInt16), 0x7f))
	if want := []float32{9, 0.5, -1}; !slices.Equal(got, want) {
		t.Errorf("AppendFloat32 = %v, want %v", got, want)
	}
}
