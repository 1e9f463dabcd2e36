package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultWatchInterval is how often a [Watcher] polls by default.
const defaultWatchInterval = 5 * time.Second

// ChangeFunc is called after a valid config that differs from the current
// one has been loaded.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// snapshot identifies one version of the config file.
type snapshot struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls a config file and reports valid changes. An mtime change
// triggers a reload; the content hash filters out touches that left the file
// as it was. Files that fail to parse or validate are logged and skipped, so
// the running pipeline keeps its last good config. Each invalid version is
// reported once.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	last    snapshot
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep the
// default of 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger for reload reports. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once and returns a watcher for it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: defaultWatchInterval, onChange: onChange, log: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	cfg, snap, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.last = cfg, snap
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled. It returns nil so that it can share an
// errgroup with the server without tearing it down.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, snap, err := w.load()
	if err != nil {
		// Remember the bad version so it is not re-read until it changes.
		w.mu.Lock()
		w.last.mtime = info.ModTime()
		w.mu.Unlock()
		w.log.Warn("config watcher: keeping current config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	sameContent := snap.sum == w.last.sum
	w.last = snap
	old := w.current
	if !sameContent {
		w.current = cfg
	}
	w.mu.Unlock()
	if sameContent {
		return
	}

	d := Diff(old, cfg)
	w.log.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"pipeline_changed", d.PipelineChanged,
		"restart_changed", d.RestartChanged,
	)
	// Called without the lock so the callback may use Current.
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}

// load reads, decodes and validates the file and returns its snapshot.
func (w *Watcher) load() (*Config, snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, snapshot{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, snapshot{}, err
	}
	return cfg, snapshot{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
