// Package pipeline runs a voxline frame pipeline: one input feeding an ordered
// chain of stages on a dedicated worker goroutine, coordinated through a
// shared [speech.Context].
//
// Lifecycle:
//
//	STOPPED --Start--> RUNNING <--Pause/Resume--> PAUSED
//	RUNNING/PAUSED --Stop (or input failure)--> STOPPED
//
// Only configuration errors are returned to callers (from [Pipeline.Start]).
// Input failures dispatch ERROR and stop the pipeline; stage failures dispatch
// ERROR and the loop continues.
//
// Listeners run on the worker goroutine. A listener must never call
// [Pipeline.Stop] or [Pipeline.Start]: both wait for the worker and would
// deadlock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// ErrNotRunning is returned by operations that need a live worker.
var ErrNotRunning = errors.New("pipeline: not running")

// Builder creates pipeline components by name. [config.Registry] satisfies it.
type Builder interface {
	CreateInput(name string, props speech.Properties) (speech.Input, error)
	CreateStage(name string, props speech.Properties) (speech.Stage, error)
}

// Config selects the components of a pipeline and the properties handed to
// their factories.
type Config struct {
	Input      string
	Stages     []string
	Properties speech.Properties
}

// State is the lifecycle state of a [Pipeline].
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Status is a point-in-time snapshot of a pipeline.
type Status struct {
	State      State    `json:"state"`
	Input      string   `json:"input"`
	Stages     []string `json:"stages"`
	Active     bool     `json:"active"`
	Managed    bool     `json:"managed"`
	Speech     bool     `json:"speech"`
	Frames     uint64   `json:"frames"`
	Transcript string   `json:"transcript,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

type namedStage struct {
	name  string
	stage speech.Stage
}

// Pipeline owns the frame loop. All exported methods are safe for concurrent
// use.
type Pipeline struct {
	cfg     Config
	builder Builder
	metrics *observe.Metrics
	sc      *speech.Context

	// lifeMu serialises Start and Stop.
	lifeMu sync.Mutex

	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	paused  bool
	cancel  context.CancelFunc
	done    chan struct{}

	resetPending atomic.Bool
	frames       atomic.Uint64
}

// New returns a stopped pipeline. The trace threshold is read from the
// trace-level property.
func New(cfg Config, b Builder, opts ...Option) (*Pipeline, error) {
	if b == nil {
		return nil, errors.New("pipeline: nil builder")
	}
	if cfg.Properties == nil {
		cfg.Properties = speech.Properties{}
	}
	level, err := cfg.Properties.TraceLevel()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		cfg: Config{
			Input:      cfg.Input,
			Stages:     slices.Clone(cfg.Stages),
			Properties: cfg.Properties.Clone(),
		},
		builder: b,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.cond = sync.NewCond(&p.mu)
	p.sc = speech.NewContext(
		speech.WithTraceLevel(level),
		speech.WithFailureHook(func(e speech.Event, _ error) {
			p.metrics.RecordListenerFailure(context.Background(), e.String())
		}),
	)
	return p, nil
}

// Context returns the activation context shared by every stage and listener.
// It outlives start/stop cycles.
func (p *Pipeline) Context() *speech.Context { return p.sc }

// AddListener registers l on the pipeline's context and returns its removal
// handle.
func (p *Pipeline) AddListener(l speech.Listener) (remove func()) {
	return p.sc.AddListener(l)
}

// Start builds the input and stages, allocates the frame ring and launches
// the worker. Calling Start on a running pipeline resumes it if paused and
// otherwise does nothing.
func (p *Pipeline) Start() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.Lock()
	if p.running {
		wasPaused := p.paused
		p.paused = false
		p.cond.Broadcast()
		p.mu.Unlock()
		p.sc.TraceDebug("attempting to start a running pipeline; ignoring")
		if wasPaused {
			slog.Info("pipeline resumed")
		}
		return nil
	}
	prevDone, prevCancel := p.done, p.cancel
	p.done, p.cancel = nil, nil
	p.mu.Unlock()

	// A worker that stopped itself may still be cleaning up.
	if prevDone != nil {
		prevCancel()
		<-prevDone
	}

	props := p.cfg.Properties.Clone()
	rate, err := props.Int(speech.KeySampleRate)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	width, err := props.Int(speech.KeyFrameWidth)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	buffer, err := props.IntDefault(speech.KeyBufferWidth, 0)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	in, stages, err := p.build(props)
	if err != nil {
		return err
	}

	size, count, err := audio.RingSizing(rate, width, buffer)
	if err == nil {
		var ring *audio.FrameRing
		if ring, err = audio.NewFrameRing(size, count); err == nil {
			p.sc.AttachRing(ring)
			p.launch(in, stages, ring, time.Duration(width)*time.Millisecond)
			slog.Info("pipeline started",
				"input", p.cfg.Input,
				"stages", p.cfg.Stages,
				"frame_bytes", size,
				"frames", count,
			)
			return nil
		}
	}
	p.cleanup(in, stages)
	return fmt.Errorf("pipeline: %w", err)
}

// build creates the input and every stage. On failure everything already
// built is closed.
func (p *Pipeline) build(props speech.Properties) (speech.Input, []namedStage, error) {
	in, err := p.builder.CreateInput(p.cfg.Input, props)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: create input %q: %w", p.cfg.Input, err)
	}
	stages := make([]namedStage, 0, len(p.cfg.Stages))
	for _, name := range p.cfg.Stages {
		st, err := p.builder.CreateStage(name, props)
		if err != nil {
			p.cleanup(in, stages)
			return nil, nil, fmt.Errorf("pipeline: create stage %q: %w", name, err)
		}
		stages = append(stages, namedStage{name: name, stage: st})
	}
	return in, stages, nil
}

func (p *Pipeline) launch(in speech.Input, stages []namedStage, ring *audio.FrameRing, budget time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.frames.Store(0)
	p.resetPending.Store(false)

	p.mu.Lock()
	p.running = true
	p.paused = false
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	p.metrics.RunningPipelines.Add(context.Background(), 1)
	go p.run(ctx, in, stages, ring, budget, done)
}

// run is the worker loop.
func (p *Pipeline) run(ctx context.Context, in speech.Input, stages []namedStage, ring *audio.FrameRing, budget time.Duration, done chan struct{}) {
	defer close(done)
	defer func() {
		p.cleanup(in, stages)
		p.metrics.RunningPipelines.Add(context.Background(), -1)
		slog.Info("pipeline stopped", "input", p.cfg.Input, "frames", p.frames.Load())
	}()

	mctx := context.Background()
	managed := false
	for p.await() {
		frame := ring.Rotate()
		if err := guard(func() error { return in.Read(ctx, p.sc, frame) }); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.metrics.RecordInputError(mctx, p.cfg.Input)
			slog.Error("pipeline: input failed; stopping", "input", p.cfg.Input, "err", err)
			p.mu.Lock()
			p.running = false
			p.paused = false
			p.mu.Unlock()
			p.sc.Fail(fmt.Errorf("pipeline: input %q: %w", p.cfg.Input, err))
			return
		}
		p.frames.Add(1)

		wasManaged := managed
		managed = p.sc.IsManaged()
		p.metrics.RecordFrame(mctx, managed)
		if managed {
			continue
		}
		// One reset per leave of managed mode, merged with any pending
		// deactivation.
		if p.resetPending.Swap(false) || wasManaged {
			p.resetStages(stages)
		}

		start := time.Now()
		for _, s := range stages {
			frame.Rewind()
			began := time.Now()
			err := guard(func() error { return s.stage.Process(p.sc, frame) })
			p.metrics.RecordStageDuration(mctx, s.name, time.Since(began))
			if err != nil {
				p.stageError(s.name, "process", err)
			}
		}
		if elapsed := time.Since(start); elapsed > budget && p.sc.CanTrace(speech.TracePerf) {
			p.sc.TracePerf("frame processed in %s, over the %s frame budget", elapsed, budget)
		}
	}
}

// await blocks while the pipeline is paused and reports whether the worker
// should keep going.
func (p *Pipeline) await() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.running && p.paused {
		p.cond.Wait()
	}
	return p.running
}

func (p *Pipeline) resetStages(stages []namedStage) {
	for _, s := range stages {
		if err := guard(s.stage.Reset); err != nil {
			p.stageError(s.name, "reset", err)
		}
	}
}

// cleanup closes every stage and the input, then returns the context to its
// idle state. Failures are reported and never stop the cleanup.
func (p *Pipeline) cleanup(in speech.Input, stages []namedStage) {
	for _, s := range stages {
		if err := guard(s.stage.Close); err != nil {
			p.stageError(s.name, "close", err)
		}
	}
	if in != nil {
		if err := guard(in.Close); err != nil {
			p.metrics.RecordInputError(context.Background(), p.cfg.Input)
			slog.Warn("pipeline: input close failed", "input", p.cfg.Input, "err", err)
			p.sc.Fail(fmt.Errorf("pipeline: input %q close: %w", p.cfg.Input, err))
		}
	}
	p.sc.Reset()
	p.sc.DetachRing()
}

func (p *Pipeline) stageError(name, phase string, err error) {
	p.metrics.RecordStageError(context.Background(), name, phase)
	slog.Warn("pipeline: stage failed", "stage", name, "phase", phase, "err", err)
	p.sc.Fail(fmt.Errorf("pipeline: stage %q %s: %w", name, phase, err))
}

// guard runs fn and converts a panic into a [speech.PanicError].
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &speech.PanicError{Value: r}
		}
	}()
	return fn()
}

// Stop halts the worker and waits for it to close every component. Stopping
// a stopped pipeline does nothing.
func (p *Pipeline) Stop() {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.Lock()
	done, cancel := p.done, p.cancel
	if done == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.paused = false
	p.done, p.cancel = nil, nil
	p.cond.Broadcast()
	p.mu.Unlock()

	cancel()
	<-done
}

// Pause deactivates the context, asks the worker to reset every stage and
// suspends frame processing. The input stays open.
func (p *Pipeline) Pause() {
	p.deactivate()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.paused = true
	}
}

// Resume continues a paused pipeline. It does nothing otherwise.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running && p.paused {
		p.paused = false
		p.cond.Broadcast()
	}
}

// Activate starts an activation manually.
func (p *Pipeline) Activate() error {
	if !p.IsRunning() {
		return ErrNotRunning
	}
	p.sc.SetActive(true)
	return nil
}

// Deactivate ends the current activation manually. The context is reset at
// once; the stages are reset by the worker before the next processed frame.
func (p *Pipeline) Deactivate() error {
	if !p.IsRunning() {
		return ErrNotRunning
	}
	p.deactivate()
	return nil
}

func (p *Pipeline) deactivate() {
	p.sc.Reset()
	p.resetPending.Store(true)
}

// IsRunning reports whether the worker is live (running or paused).
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// IsPaused reports whether the pipeline is paused.
func (p *Pipeline) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && p.paused
}

// State returns the lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.running && p.paused:
		return StatePaused
	case p.running:
		return StateRunning
	default:
		return StateStopped
	}
}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done returns a channel that is closed once the current worker has exited
// and cleaned up, including after an input failure. For a pipeline that was
// never started or has been stopped the channel is already closed.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return closedDone
	}
	return p.done
}

// Status returns a snapshot of the pipeline and its context.
func (p *Pipeline) Status() Status {
	st := Status{
		State:      p.State(),
		Input:      p.cfg.Input,
		Stages:     slices.Clone(p.cfg.Stages),
		Active:     p.sc.IsActive(),
		Managed:    p.sc.IsManaged(),
		Speech:     p.sc.IsSpeech(),
		Frames:     p.frames.Load(),
		Transcript: p.sc.Transcript(),
	}
	if err := p.sc.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}
