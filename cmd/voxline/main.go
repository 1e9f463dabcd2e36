// Command voxline runs an audio frame pipeline and serves its control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MrWong99/voxline/internal/app"
	"github.com/MrWong99/voxline/internal/config"
	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/pkg/speech"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Duration("watch", 5*time.Second, "config reload poll interval; 0 disables hot reload")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxline: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(newLogger(cfg.Server.LogLevel, &level))

	slog.Info("voxline starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Component registry ────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithRegistry(reg),
		app.WithGatherer(promReg),
		app.WithLevelVar(&level),
	}
	if *watch > 0 {
		opts = append(opts, app.WithConfigWatch(*configPath, *watch))
	}
	application, err := app.New(cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if code == 0 {
		slog.Info("goodbye")
	}
	return code
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	p := cfg.Pipeline.Resolved()
	props := cfg.Pipeline.Properties()

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxline startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Profile", p.Profile)
	printField("Input", p.Input)
	printField("Stages", strings.Join(p.Stages, ","))
	printField("Sample rate", fmt.Sprint(props[speech.KeySampleRate]))
	printField("Frame width", fmt.Sprint(props[speech.KeyFrameWidth], " ms"))
	printField("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The level lives in v so configuration
// reloads can change it.
func newLogger(level config.LogLevel, v *slog.LevelVar) *slog.Logger {
	v.Set(level.Level())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: v}))
}
