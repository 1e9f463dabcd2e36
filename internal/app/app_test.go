package app_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voxline/internal/app"
	"github.com/MrWong99/voxline/internal/config"
	"github.com/MrWong99/voxline/internal/pipeline"
	"github.com/MrWong99/voxline/pkg/speech/mock"
)

const reloadConfig = `server:
  log_level: %s
pipeline:
  input: mock
  stages: [%s]
  sample_rate: 8000
  frame_width: 10
  buffer_width: 30
`

func writeConfig(t *testing.T, path, level, stage string, mtime time.Time) {
	t.Helper()
	data := []byte(fmt.Sprintf(reloadConfig, level, stage))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

// runApp runs a in the background and returns a func that cancels it and
// returns Run's result.
func runApp(t *testing.T, a *app.App) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func TestNew_DefaultsToBuiltins(t *testing.T) {
	t.Parallel()

	a, err := app.New(&config.Config{Pipeline: config.PipelineConfig{Input: "silence"}}, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	st := a.Manager().Status()
	if st.State != pipeline.StateStopped {
		t.Errorf("State = %q after New, want %q", st.State, pipeline.StateStopped)
	}
	if st.Input != "silence" {
		t.Errorf("Input = %q, want silence", st.Input)
	}
	if a.Handler() == nil {
		t.Error("Handler() should not be nil")
	}
}

func TestApp_RunStartsPipelineUntilCancelled(t *testing.T) {
	t.Parallel()

	in := &mock.Input{Gate: make(chan struct{})}
	cfg := &config.Config{Pipeline: testPipeline("st")}
	a, err := app.New(cfg,
		app.WithRegistry(testRegistry(in, &mock.Stage{Name: "st"})),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	stop := runApp(t, a)
	waitFor(t, "pipeline start", func() bool { return a.Manager().Status().State == pipeline.StateRunning })

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if got := a.Manager().Status().State; got != pipeline.StateStopped {
		t.Errorf("State = %q after Shutdown, want %q", got, pipeline.StateStopped)
	}
	if in.CloseCount() != 1 {
		t.Errorf("input closed %d times, want 1", in.CloseCount())
	}
	// Shutdown is idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunListenFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	in := &mock.Input{Gate: make(chan struct{})}
	cfg := &config.Config{
		Server:   config.ServerConfig{ListenAddr: ln.Addr().String()},
		Pipeline: testPipeline(),
	}
	a, err := app.New(cfg, app.WithRegistry(testRegistry(in)), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Shutdown(context.Background())

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded on an address in use")
	}
	if got := a.Manager().Status().State; got != pipeline.StateStopped {
		t.Errorf("State = %q, want the pipeline left stopped", got)
	}
}

func TestApp_ConfigReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxline.yaml")
	writeConfig(t, path, "info", "a", time.Now().Add(-time.Hour))
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var level slog.LevelVar
	in := &mock.Input{Gate: make(chan struct{})}
	a, err := app.New(cfg,
		app.WithRegistry(testRegistry(in, &mock.Stage{Name: "a"}, &mock.Stage{Name: "b"})),
		app.WithMetrics(testMetrics(t)),
		app.WithLevelVar(&level),
		app.WithConfigWatch(path, 10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := runApp(t, a)
	waitFor(t, "pipeline start", func() bool { return a.Manager().Status().State == pipeline.StateRunning })

	writeConfig(t, path, "debug", "b", time.Now())
	waitFor(t, "log level change", func() bool { return level.Level() == slog.LevelDebug })
	waitFor(t, "pipeline reconfigure", func() bool {
		return slices.Equal(a.Manager().Status().Stages, []string{"b"})
	})
	if got := a.Manager().Status().State; got != pipeline.StateRunning {
		t.Errorf("State = %q after reload, want %q", got, pipeline.StateRunning)
	}

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestRegisterBuiltins_MatchesValidNames(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	for kind, got := range map[string][]string{"input": reg.Inputs(), "stage": reg.Stages()} {
		want := slices.Sorted(slices.Values(config.ValidComponentNames[kind]))
		if !slices.Equal(got, want) {
			t.Errorf("%s components = %v, want %v", kind, got, want)
		}
	}
}
