package silence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/input/silence"
	"github.com/MrWong99/voxline/pkg/speech"
)

func TestInput_ClearsFrame(t *testing.T) {
	t.Parallel()
	in, err := silence.New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	frame := audio.NewFrame(4)
	copy(frame.Bytes(), []byte{1, 2, 3, 4})
	if err := in.Read(context.Background(), speech.NewContext(), frame); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range frame.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestInput_PacesFrames(t *testing.T) {
	t.Parallel()
	const interval = 10 * time.Millisecond
	in, _ := silence.New(interval)
	sc := speech.NewContext()
	frame := audio.NewFrame(4)

	start := time.Now()
	for range 5 {
		if err := in.Read(context.Background(), sc, frame); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	// The first frame is immediate; four more slots follow.
	if elapsed := time.Since(start); elapsed < 4*interval {
		t.Errorf("5 frames took %v, want at least %v", elapsed, 4*interval)
	}
}

func TestInput_CancelUnblocksRead(t *testing.T) {
	t.Parallel()
	in, _ := silence.New(time.Hour)
	sc := speech.NewContext()
	frame := audio.NewFrame(4)
	if err := in.Read(context.Background(), sc, frame); err != nil {
		t.Fatalf("first Read: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := in.Read(ctx, sc, frame); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewFromProperties(t *testing.T) {
	t.Parallel()
	if _, err := silence.NewFromProperties(speech.Properties{speech.KeyFrameWidth: 20}); err != nil {
		t.Errorf("NewFromProperties: %v", err)
	}
	if _, err := silence.NewFromProperties(speech.Properties{speech.KeyFrameWidth: -5}); err == nil {
		t.Error("accepted a negative frame width")
	}
}
