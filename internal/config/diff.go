package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Log level changes are applied live; pipeline changes require a pipeline
// restart; listen address and restart policy changes require a process
// restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true if any of the fields below is true.
	PipelineChanged   bool
	InputChanged      bool
	StagesChanged     bool
	PropertiesChanged bool

	ListenAddrChanged bool
	RestartChanged    bool
}

// Diff compares old and new configs and returns what changed. Pipelines are
// compared after profile resolution, so switching to a profile that expands
// to the same pipeline is not a change.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ListenAddrChanged = old.Server.ListenAddr != new.Server.ListenAddr
	d.RestartChanged = old.Restart != new.Restart

	op, np := old.Pipeline.Resolved(), new.Pipeline.Resolved()
	d.InputChanged = op.Input != np.Input
	d.StagesChanged = !slices.Equal(op.Stages, np.Stages)
	d.PropertiesChanged = !reflect.DeepEqual(old.Pipeline.Properties(), new.Pipeline.Properties())
	d.PipelineChanged = d.InputChanged || d.StagesChanged || d.PropertiesChanged

	return d
}
