package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxline/internal/config"
	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/internal/pipeline"
	"github.com/MrWong99/voxline/internal/resilience"
	"github.com/MrWong99/voxline/pkg/speech"
)

// RunInfo describes one start-to-stop run of the pipeline.
type RunInfo struct {
	// RunID is the unique identifier of the run.
	RunID string `json:"run_id,omitempty"`

	// Profile is the pipeline profile the run was built from, if any.
	Profile string `json:"profile,omitempty"`

	// StartedAt is when the run was started.
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Status combines the pipeline snapshot with the current run.
type Status struct {
	pipeline.Status
	RunInfo

	// LastError is the most recent failure of the current run. Unlike
	// Status.Error it survives the context reset done on stop.
	LastError string `json:"last_error,omitempty"`

	// Restarts counts automatic restarts since the pipeline was last started
	// by hand.
	Restarts int `json:"restarts,omitempty"`

	// Breaker is the restart breaker state when automatic restarts are on.
	Breaker string `json:"breaker,omitempty"`
}

// defaultStableAfter is how long a restarted pipeline must run before the
// restart counts as a success.
const defaultStableAfter = 10 * time.Second

// Manager owns the pipeline and replaces it when its configuration changes.
// Exactly one pipeline exists at a time. All exported methods are safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	pipe     *pipeline.Pipeline
	pc       config.PipelineConfig
	info     RunInfo
	wantRun  bool
	restarts int
	changed  chan struct{}

	// errMu guards lastErr, which is written from the worker goroutine.
	errMu   sync.Mutex
	lastErr error

	// Dependencies injected at construction.
	builder   pipeline.Builder
	metrics   *observe.Metrics
	listeners []speech.Listener

	// Restart policy; breaker is nil when automatic restarts are off.
	restart     config.RestartConfig
	breaker     *resilience.Breaker
	stableAfter time.Duration
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	Pipeline config.PipelineConfig
	Builder  pipeline.Builder
	Metrics  *observe.Metrics

	// Listeners are attached to every pipeline the manager builds.
	Listeners []speech.Listener

	// Restart controls automatic restarts after an input failure. They only
	// happen while [Manager.Supervise] runs.
	Restart config.RestartConfig
}

// NewManager builds a stopped pipeline from cfg.Pipeline.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Builder == nil {
		return nil, errors.New("app: manager needs a builder")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	m := &Manager{
		pc:        cfg.Pipeline,
		changed:   make(chan struct{}),
		builder:   cfg.Builder,
		metrics:   cfg.Metrics,
		listeners: cfg.Listeners,
		restart:   cfg.Restart,
	}
	if cfg.Restart.Enabled {
		m.breaker = resilience.NewBreaker(resilience.BreakerConfig{
			Name:         "pipeline-restart",
			MaxFailures:  cfg.Restart.MaxFailures,
			ResetTimeout: cfg.Restart.ResetTimeout,
		})
		m.stableAfter = cmp.Or(cfg.Restart.StableAfter, defaultStableAfter)
	}
	p, err := m.build(cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	m.pipe = p
	return m, nil
}

// pipelineConfig converts the file representation into the engine's.
func pipelineConfig(pc config.PipelineConfig) pipeline.Config {
	r := pc.Resolved()
	return pipeline.Config{
		Input:      r.Input,
		Stages:     r.Stages,
		Properties: pc.Properties(),
	}
}

func (m *Manager) build(pc config.PipelineConfig) (*pipeline.Pipeline, error) {
	p, err := pipeline.New(pipelineConfig(pc), m.builder, pipeline.WithMetrics(m.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	p.AddListener(speech.ListenerFunc(func(e speech.Event, sc *speech.Context) error {
		if e == speech.EventError {
			m.setLastErr(sc.Err())
		}
		return nil
	}))
	for _, l := range m.listeners {
		p.AddListener(l)
	}
	return p, nil
}

func (m *Manager) setLastErr(err error) {
	m.errMu.Lock()
	m.lastErr = err
	m.errMu.Unlock()
}

// LastError returns the most recent failure since the pipeline was started.
func (m *Manager) LastError() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.lastErr
}

// notify wakes [Manager.Supervise]. Must be called with m.mu held.
func (m *Manager) notify() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// newRun records a fresh run of the current pipeline. Must be called with
// m.mu held.
func (m *Manager) newRun() {
	m.setLastErr(nil)
	now := time.Now().UTC()
	m.info = RunInfo{RunID: uuid.NewString(), Profile: m.pc.Profile, StartedAt: &now}
	slog.Info("pipeline run started", "run_id", m.info.RunID, "profile", m.info.Profile)
}

// Start starts the pipeline, or resumes it when paused. A new run is only
// recorded when the pipeline was stopped. Starting by hand also resets the
// restart breaker.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasRunning := m.pipe.IsRunning()
	if err := m.pipe.Start(); err != nil {
		return fmt.Errorf("app: start pipeline: %w", err)
	}
	if !wasRunning {
		m.restarts = 0
		if m.breaker != nil {
			m.breaker.Reset()
		}
		m.newRun()
	}
	m.wantRun = true
	m.notify()
	return nil
}

// Stop stops the pipeline and cancels pending automatic restarts. Stopping a
// stopped pipeline does nothing else.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wantRun = false
	defer m.notify()
	if !m.pipe.IsRunning() {
		return
	}
	m.pipe.Stop()
	slog.Info("pipeline run ended", "run_id", m.info.RunID)
}

// Pause suspends frame processing and resets the activation.
func (m *Manager) Pause() error {
	p := m.current()
	if !p.IsRunning() {
		return pipeline.ErrNotRunning
	}
	p.Pause()
	slog.Debug("pipeline paused")
	return nil
}

// Resume continues a paused pipeline.
func (m *Manager) Resume() error {
	p := m.current()
	if !p.IsRunning() {
		return pipeline.ErrNotRunning
	}
	p.Resume()
	slog.Debug("pipeline resumed")
	return nil
}

// Activate starts an activation manually.
func (m *Manager) Activate() error { return m.current().Activate() }

// Deactivate ends the current activation.
func (m *Manager) Deactivate() error { return m.current().Deactivate() }

// Status returns a snapshot of the pipeline and the current run.
func (m *Manager) Status() Status {
	m.mu.Lock()
	p, info, restarts := m.pipe, m.info, m.restarts
	m.mu.Unlock()
	st := Status{Status: p.Status(), Restarts: restarts}
	if st.State != pipeline.StateStopped {
		st.RunInfo = info
	}
	if err := m.LastError(); err != nil {
		st.LastError = err.Error()
	}
	if m.breaker != nil {
		st.Breaker = m.breaker.State().String()
	}
	return st
}

// Ready reports the pipeline state for readiness probes. The pipeline is
// ready while its worker is live.
func (m *Manager) Ready() (string, bool) {
	if m.current().State() != pipeline.StateStopped {
		return "", true
	}
	desc := "pipeline stopped"
	if err := m.LastError(); err != nil {
		desc = fmt.Sprintf("pipeline stopped: %v", err)
	}
	if m.breaker != nil && m.breaker.State() == resilience.StateOpen {
		desc += fmt.Sprintf("; restart breaker open, retry in %v", m.breaker.RetryIn().Round(time.Second))
	}
	return desc, false
}

// Context returns the activation context of the current pipeline.
func (m *Manager) Context() *speech.Context { return m.current().Context() }

func (m *Manager) current() *pipeline.Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipe
}

// Reconfigure replaces the pipeline with one built from pc. A running
// pipeline is stopped and the replacement started. When pc cannot be built
// the current pipeline is left untouched.
func (m *Manager) Reconfigure(pc config.PipelineConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.build(pc)
	if err != nil {
		return err
	}
	old := m.pipe
	wasRunning := old.IsRunning()
	old.Stop()
	m.pipe, m.pc = next, pc
	slog.Info("pipeline reconfigured", "profile", pc.Profile, "restart", wasRunning)
	defer m.notify()

	if !wasRunning {
		return nil
	}
	if err := next.Start(); err != nil {
		m.wantRun = false
		return fmt.Errorf("app: restart pipeline: %w", err)
	}
	m.newRun()
	return nil
}

// Supervise watches for pipelines that stop on their own, which happens when
// the input fails. The failure is logged and, when automatic restarts are
// on, the pipeline is restarted with backoff behind a breaker. Supervise
// returns nil when ctx is cancelled.
func (m *Manager) Supervise(ctx context.Context) error {
	for {
		m.mu.Lock()
		p, changed := m.pipe, m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			continue
		case <-p.Done():
		}
		if m.workerExited(p) {
			m.restartLoop(ctx)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}

// workerExited reports whether p stopped on its own while it should be
// running and an automatic restart should follow.
func (m *Manager) workerExited(p *pipeline.Pipeline) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pipe != p || !m.wantRun || p.IsRunning() {
		return false
	}
	slog.Error("pipeline stopped unexpectedly",
		"run_id", m.info.RunID,
		"input", p.Status().Input,
		"err", m.LastError(),
		"restart", m.breaker != nil,
	)
	if m.breaker == nil {
		m.wantRun = false
		return false
	}
	return true
}

// restartLoop restarts the pipeline until a restart stays up for stableAfter,
// the pipeline is changed by hand or ctx ends.
func (m *Manager) restartLoop(ctx context.Context) {
	bo := resilience.Backoff{Initial: m.restart.Backoff, Max: m.restart.MaxBackoff}
	for attempt := 1; ; attempt++ {
		m.mu.Lock()
		changed := m.changed
		m.mu.Unlock()

		delay := max(bo.Next(), m.breaker.RetryIn())
		slog.Info("restarting pipeline", "attempt", attempt, "in", delay, "breaker", m.breaker.State())
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-changed:
			t.Stop()
			return
		case <-t.C:
		}

		var settled bool
		err := m.breaker.Execute(func() error {
			var err error
			settled, err = m.restartOnce(ctx)
			return err
		})
		switch {
		case settled:
			return
		case errors.Is(err, resilience.ErrOpen):
			continue
		default:
			slog.Warn("pipeline restart failed", "attempt", attempt, "err", err)
		}
	}
}

// restartOnce starts the current pipeline and waits until it has run for
// stableAfter. settled is true when no further attempt is needed, either
// because the restart held or because the pipeline was taken over by hand.
func (m *Manager) restartOnce(ctx context.Context) (settled bool, err error) {
	m.mu.Lock()
	p, changed := m.pipe, m.changed
	if !m.wantRun || p.IsRunning() {
		m.mu.Unlock()
		return true, nil
	}
	if err := p.Start(); err != nil {
		m.mu.Unlock()
		return false, fmt.Errorf("app: restart pipeline: %w", err)
	}
	m.restarts++
	m.newRun()
	runID, done := m.info.RunID, p.Done()
	m.mu.Unlock()

	t := time.NewTimer(m.stableAfter)
	defer t.Stop()
	select {
	case <-t.C:
		slog.Info("pipeline restart held", "run_id", runID)
		return true, nil
	case <-ctx.Done():
		return true, nil
	case <-changed:
		return true, nil
	case <-done:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pipe != p || !m.wantRun || p.IsRunning() {
		return true, nil
	}
	if err := m.LastError(); err != nil {
		return false, err
	}
	return false, errors.New("app: pipeline stopped after restart")
}
