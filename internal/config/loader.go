package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// ValidComponentNames lists the built-in component names per kind.
// Used by [Validate] to warn about unrecognised names, which may still be
// valid when a caller registers its own factories.
var ValidComponentNames = map[string][]string{
	"input": {"portaudio", "wav-file", "websocket", "silence"},
	"stage": {"webrtc-vad", "energy-vad", "activity-filter", "activation-timeout", "speech-sampler", "whisper"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.Profile != "" {
		if _, ok := Profiles[p.Profile]; !ok {
			errs = append(errs, fmt.Errorf("pipeline.profile %q is unknown; valid values: %v", p.Profile, slices.Sorted(maps.Keys(Profiles))))
		}
	}
	r := p.Resolved()
	if r.Input == "" {
		errs = append(errs, errors.New("pipeline.input is required (directly or through pipeline.profile)"))
	} else {
		validateComponentName("input", r.Input)
	}
	for i, st := range r.Stages {
		if st == "" {
			errs = append(errs, fmt.Errorf("pipeline.stages[%d] is empty", i))
			continue
		}
		validateComponentName("stage", st)
	}

	if p.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_rate %d must not be negative", p.SampleRate))
	}
	if p.FrameWidth < 0 {
		errs = append(errs, fmt.Errorf("pipeline.frame_width %d must not be negative", p.FrameWidth))
	}
	if p.BufferWidth < 0 {
		errs = append(errs, fmt.Errorf("pipeline.buffer_width %d must not be negative", p.BufferWidth))
	}
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"rise_delay", p.RiseDelay},
		{"fall_delay", p.FallDelay},
		{"wake_active_min", p.WakeActiveMin},
		{"wake_active_max", p.WakeActiveMax},
	} {
		if f.v != nil && *f.v < 0 {
			errs = append(errs, fmt.Errorf("pipeline.%s %d must not be negative", f.name, *f.v))
		}
	}
	if p.WakeActiveMin != nil && p.WakeActiveMax != nil && *p.WakeActiveMin > *p.WakeActiveMax {
		errs = append(errs, fmt.Errorf("pipeline.wake_active_min %d exceeds wake_active_max %d", *p.WakeActiveMin, *p.WakeActiveMax))
	}
	if p.TraceLevel != "" {
		if _, err := speech.ParseTraceLevel(p.TraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.trace_level: %w", err))
		}
	}

	// Restart policy
	rs := cfg.Restart
	for _, f := range []struct {
		name string
		v    time.Duration
	}{
		{"backoff", rs.Backoff},
		{"max_backoff", rs.MaxBackoff},
		{"stable_after", rs.StableAfter},
		{"reset_timeout", rs.ResetTimeout},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("restart.%s %v must not be negative", f.name, f.v))
		}
	}
	if rs.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("restart.max_failures %d must not be negative", rs.MaxFailures))
	}
	if rs.Backoff > 0 && rs.MaxBackoff > 0 && rs.Backoff > rs.MaxBackoff {
		errs = append(errs, fmt.Errorf("restart.backoff %v exceeds max_backoff %v", rs.Backoff, rs.MaxBackoff))
	}

	// Ring sizing only makes sense once the individual values are sane.
	if len(errs) == 0 {
		props := p.Properties()
		rate, _ := props.Int(speech.KeySampleRate)
		width, _ := props.Int(speech.KeyFrameWidth)
		buffer, _ := props.Int(speech.KeyBufferWidth)
		if _, _, err := audio.RingSizing(rate, width, buffer); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: %w", err))
		}
	}

	return errors.Join(errs...)
}

// validateComponentName logs a warning if name is not found in the
// [ValidComponentNames] list for the given kind.
func validateComponentName(kind, name string) {
	known, ok := ValidComponentNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown component name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
