// Package config provides the configuration schema, loader, hot-reload
// watcher and component registry for voxline.
package config

import (
	"log/slog"
	"maps"
	"time"

	"github.com/MrWong99/voxline/pkg/speech"
)

// LogLevel controls log verbosity for the voxline server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to an [slog.Level]. Unknown or empty values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Pipeline defaults applied when neither the config nor its profile sets a
// value.
const (
	DefaultSampleRate  = 16000
	DefaultFrameWidth  = 20
	DefaultBufferWidth = 300
)

// Config is the root configuration structure for voxline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Restart  RestartConfig  `yaml:"restart"`
}

// RestartConfig controls how a pipeline whose input failed is brought back.
// Durations use Go syntax ("500ms", "2m"). Zero values take the defaults of
// the resilience package.
type RestartConfig struct {
	// Enabled turns automatic restarts on. When false a failed pipeline stays
	// stopped until it is started again through the control API.
	Enabled bool `yaml:"enabled"`

	// Backoff is the first delay before a restart; it doubles up to
	// MaxBackoff for every consecutive failure.
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// StableAfter is how long a restarted pipeline must keep running before
	// the restart counts as a success. Default: 10s.
	StableAfter time.Duration `yaml:"stable_after"`

	// MaxFailures consecutive failed restarts open the breaker, which then
	// waits ResetTimeout before a single probe restart.
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ServerConfig holds network and logging settings for the voxline server.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":9464").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// PipelineConfig describes one frame pipeline: its input, its ordered stages
// and the properties handed to every component factory.
//
// Timing fields are pointers so that an explicit zero can be told apart from
// an unset value; unset values fall back to the profile and then to the
// component's own default.
type PipelineConfig struct {
	// Profile names a preset from [Profiles]. Explicit fields override it.
	Profile string `yaml:"profile"`

	// Input is the registry name of the audio input.
	Input string `yaml:"input"`

	// Stages are registry names, processed in order for every frame.
	Stages []string `yaml:"stages"`

	SampleRate    int    `yaml:"sample_rate"`
	FrameWidth    int    `yaml:"frame_width"`
	BufferWidth   int    `yaml:"buffer_width"`
	RiseDelay     *int   `yaml:"rise_delay"`
	FallDelay     *int   `yaml:"fall_delay"`
	WakeActiveMin *int   `yaml:"wake_active_min"`
	WakeActiveMax *int   `yaml:"wake_active_max"`
	TraceLevel    string `yaml:"trace_level"`

	// Options holds component-specific properties keyed by their dashed
	// property name (e.g. "vad-mode", "sample-log-path").
	Options map[string]any `yaml:"options"`
}

// Resolved returns a copy of p with the named profile applied underneath the
// explicit values. Unknown profiles are ignored; [Validate] reports them.
func (p PipelineConfig) Resolved() PipelineConfig {
	out := p
	prof, ok := Profiles[p.Profile]
	if !ok {
		return out
	}
	if out.Input == "" {
		out.Input = prof.Input
	}
	if len(out.Stages) == 0 {
		out.Stages = append([]string(nil), prof.Stages...)
	}
	opts := maps.Clone(prof.Properties)
	if opts == nil {
		opts = make(map[string]any, len(p.Options))
	}
	maps.Copy(opts, p.Options)
	out.Options = opts
	return out
}

// Properties flattens the resolved pipeline config into the property map
// handed to component factories. Typed fields override entries in Options
// that use the same key.
func (p PipelineConfig) Properties() speech.Properties {
	r := p.Resolved()
	props := make(speech.Properties, len(r.Options)+8)
	maps.Copy(props, r.Options)

	props[speech.KeySampleRate] = orDefault(r.SampleRate, props, speech.KeySampleRate, DefaultSampleRate)
	props[speech.KeyFrameWidth] = orDefault(r.FrameWidth, props, speech.KeyFrameWidth, DefaultFrameWidth)
	props[speech.KeyBufferWidth] = orDefault(r.BufferWidth, props, speech.KeyBufferWidth, DefaultBufferWidth)

	setIf(props, speech.KeyRiseDelay, r.RiseDelay)
	setIf(props, speech.KeyFallDelay, r.FallDelay)
	setIf(props, speech.KeyWakeActiveMin, r.WakeActiveMin)
	setIf(props, speech.KeyWakeActiveMax, r.WakeActiveMax)
	if r.TraceLevel != "" {
		props[speech.KeyTraceLevel] = r.TraceLevel
	}
	return props
}

// orDefault returns v when set, the existing option value when present and
// def otherwise.
func orDefault(v int, props speech.Properties, key string, def int) any {
	if v != 0 {
		return v
	}
	if existing, ok := props[key]; ok {
		return existing
	}
	return def
}

func setIf(props speech.Properties, key string, v *int) {
	if v != nil {
		props[key] = *v
	}
}

// IntPtr returns a pointer to v. It is a helper for building configs in code.
func IntPtr(v int) *int { return &v }
