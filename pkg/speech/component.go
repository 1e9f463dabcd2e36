package speech

import (
	"context"

	"github.com/MrWong99/voxline/pkg/audio"
)

// Input produces audio for the pipeline. Read must fill frame completely or
// return an error; any error is fatal to the running pipeline. Read must
// return promptly once ctx is cancelled.
//
// Implementations are driven by a single pipeline worker and need not be safe
// for concurrent Read calls. Close may be called from the worker after the
// last Read has returned.
type Input interface {
	Read(ctx context.Context, sc *Context, frame *audio.Frame) error
	Close() error
}

// Stage processes one frame at a time, in registration order. Stages read and
// modify the shared [Context]; errors they return are reported as
// [EventError] and do not stop the pipeline.
//
// Reset discards per-activation state. The engine calls it after a managed
// period ends and whenever the pipeline is deactivated or paused. Close
// releases resources when the pipeline stops.
type Stage interface {
	Process(sc *Context, frame *audio.Frame) error
	Reset() error
	Close() error
}

// InputFactory constructs an [Input] from configuration properties.
type InputFactory func(Properties) (Input, error)

// StageFactory constructs a [Stage] from configuration properties.
type StageFactory func(Properties) (Stage, error)
