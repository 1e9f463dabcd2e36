// Package app wires the voxline subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the pipeline manager,
// the event hub and the HTTP control surface, Run starts the pipeline and
// serves until ctx is cancelled, and Shutdown tears everything down in
// order.
//
// For testing, inject a registry or metrics via functional options
// (WithRegistry, WithMetrics, etc.). When an option is not provided, New uses
// the built-in components and the global meter provider.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxline/internal/config"
	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/pkg/speech"
)

const (
	// readHeaderTimeout bounds how long the control server waits for request
	// headers.
	readHeaderTimeout = 10 * time.Second
	// drainTimeout bounds the graceful server shutdown at the end of Run.
	drainTimeout = 5 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	registry  *config.Registry
	metrics   *observe.Metrics
	gatherer  prometheus.Gatherer
	levelVar  *slog.LevelVar
	listeners []speech.Listener

	// configPath enables hot reload when set.
	configPath    string
	watchInterval time.Duration

	// Subsystems initialised in New, torn down in Shutdown.
	manager *Manager
	hub     *Hub
	server  *http.Server
	watcher *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the component registry. When omitted a registry holding
// the built-in components is created.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer enables GET /metrics backed by g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLevelVar lets configuration reloads change the log level of the
// handler built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithListeners attaches extra listeners to every pipeline.
func WithListeners(ls ...speech.Listener) Option {
	return func(a *App) { a.listeners = append(a.listeners, ls...) }
}

// WithConfigWatch reloads the configuration file at path every interval.
// A zero interval selects the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// New creates the App. The pipeline is built but not started.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltins(a.registry)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.hub = NewHub()
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	listeners := []speech.Listener{
		observe.NewEventListener(a.metrics),
		observe.LogListener{},
		a.hub,
	}
	m, err := NewManager(ManagerConfig{
		Pipeline:  cfg.Pipeline,
		Builder:   a.registry,
		Metrics:   a.metrics,
		Listeners: append(listeners, a.listeners...),
		Restart:   cfg.Restart,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.manager = m
	a.closers = append(a.closers, func() error {
		m.Stop()
		return nil
	})

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange, config.WithInterval(a.watchInterval))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	a.server = &http.Server{
		Addr: cfg.Server.ListenAddr,
		Handler: NewHandler(HandlerConfig{
			Manager:  m,
			Hub:      a.hub,
			Metrics:  a.metrics,
			Gatherer: a.gatherer,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

// Manager returns the pipeline manager.
func (a *App) Manager() *Manager { return a.manager }

// Handler returns the HTTP control surface.
func (a *App) Handler() http.Handler { return a.server.Handler }

// onConfigChange applies a reloaded configuration.
func (a *App) onConfigChange(_, newCfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PipelineChanged {
		if err := a.manager.Reconfigure(newCfg.Pipeline); err != nil {
			slog.Error("failed to apply pipeline config", "err", err)
		}
	}
	if d.ListenAddrChanged {
		slog.Warn("server.listen_addr changed; restart voxline to apply it", "addr", newCfg.Server.ListenAddr)
	}
	if d.RestartChanged {
		slog.Warn("restart policy changed; restart voxline to apply it")
	}
}

// Run starts the pipeline, serves the control surface when a listen address
// is configured, and blocks until ctx is cancelled. It returns ctx.Err() on
// a clean stop. A pipeline that fails to start is logged and left stopped so
// it can be fixed through a config reload or started over the control API.
func (a *App) Run(ctx context.Context) error {
	var ln net.Listener
	if a.cfg.Server.ListenAddr != "" {
		var err error
		if ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr); err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
		slog.Info("control server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	}

	if err := a.manager.Start(); err != nil {
		slog.Error("failed to start pipeline", "err", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.manager.Supervise(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if ln != nil {
		g.Go(func() error {
			err := a.serve(ln)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: serve: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), drainTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("app running", "state", a.manager.Status().State)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) serve(ln net.Listener) error {
	if tls := a.cfg.Server.TLS; tls != nil {
		return a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
	}
	return a.server.Serve(ln)
}

// Shutdown stops the pipeline, closes event streams and the server. It is
// safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: shutdown server: %w", err))
		}
	})
	return errors.Join(errs...)
}
