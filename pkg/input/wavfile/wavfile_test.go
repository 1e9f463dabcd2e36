package wavfile_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/input/wavfile"
	"github.com/MrWong99/voxline/pkg/speech"
)

// writeWAV encodes interleaved samples into a 16-bit PCM file in a temp dir.
func writeWAV(t *testing.T, rate, channels int, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Data:           samples,
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func open(t *testing.T, path string, rate int, opts ...wavfile.Option) *wavfile.Input {
	t.Helper()
	in, err := wavfile.Open(path, rate, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = in.Close() })
	return in
}

// readAll reads n frames of two samples each.
func readAll(t *testing.T, in *wavfile.Input, n int) [][]int16 {
	t.Helper()
	sc := speech.NewContext()
	var out [][]int16
	for i := range n {
		frame := audio.NewFrame(4)
		if err := in.Read(context.Background(), sc, frame); err != nil {
			t.Fatalf("Read frame %d: %v", i+1, err)
		}
		out = append(out, frame.Samples(nil))
	}
	return out
}

func TestInput_ReadsFramesThenEOF(t *testing.T) {
	t.Parallel()
	path := writeWAV(t, 8000, 1, []int{1, 2, 3, 4, 5})
	in := open(t, path, 8000)

	got := readAll(t, in, 2)
	want := [][]int16{{1, 2}, {3, 4}}
	if !slices.EqualFunc(got, want, slices.Equal) {
		t.Errorf("frames = %v, want %v", got, want)
	}
	err := in.Read(context.Background(), speech.NewContext(), audio.NewFrame(4))
	if !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestInput_Loops(t *testing.T) {
	t.Parallel()
	path := writeWAV(t, 8000, 1, []int{1, 2, 3, 4})
	in := open(t, path, 8000, wavfile.WithLoop(true))

	got := readAll(t, in, 5)
	want := [][]int16{{1, 2}, {3, 4}, {1, 2}, {3, 4}, {1, 2}}
	if !slices.EqualFunc(got, want, slices.Equal) {
		t.Errorf("frames = %v, want %v", got, want)
	}
}

func TestInput_ConvertsFormat(t *testing.T) {
	t.Parallel()
	// Stereo at 16 kHz with identical channels becomes mono at 8 kHz.
	path := writeWAV(t, 16000, 2, []int{10, 10, 20, 20, 30, 30, 40, 40, 50, 50, 60, 60, 70, 70, 80, 80})
	in := open(t, path, 8000)
	if f := in.Format(); f.SampleRate != 16000 || f.Channels != 2 {
		t.Fatalf("source format = %v", f)
	}

	got := readAll(t, in, 2)
	want := [][]int16{{10, 30}, {50, 70}}
	if !slices.EqualFunc(got, want, slices.Equal) {
		t.Errorf("frames = %v, want %v", got, want)
	}
}

func TestInput_CancelledContext(t *testing.T) {
	t.Parallel()
	in := open(t, writeWAV(t, 8000, 1, []int{1, 2}), 8000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := in.Read(ctx, speech.NewContext(), audio.NewFrame(4)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	notWAV := filepath.Join(dir, "noise.wav")
	if err := os.WriteFile(notWAV, []byte("definitely not a riff file"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := wavfile.Open(filepath.Join(dir, "missing.wav"), 8000); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v, want os.ErrNotExist", err)
	}
	if _, err := wavfile.Open(notWAV, 8000); err == nil {
		t.Error("accepted a file that is not WAV")
	}
	if _, err := wavfile.NewFromProperties(speech.Properties{speech.KeySampleRate: 8000}); !errors.Is(err, speech.ErrMissingProperty) {
		t.Errorf("no path: err = %v, want ErrMissingProperty", err)
	}
}
