package app

import (
	"log/slog"

	"github.com/MrWong99/voxline/internal/config"
	"github.com/MrWong99/voxline/pkg/input/portaudio"
	"github.com/MrWong99/voxline/pkg/input/silence"
	"github.com/MrWong99/voxline/pkg/input/wavfile"
	wsinput "github.com/MrWong99/voxline/pkg/input/websocket"
	"github.com/MrWong99/voxline/pkg/speech"
	"github.com/MrWong99/voxline/pkg/stage/activity"
	"github.com/MrWong99/voxline/pkg/stage/energy"
	"github.com/MrWong99/voxline/pkg/stage/sampler"
	"github.com/MrWong99/voxline/pkg/stage/timeout"
	"github.com/MrWong99/voxline/pkg/stage/vad"
	"github.com/MrWong99/voxline/pkg/stage/whisper"
)

// builtinInputs maps input names to the factories that ship with voxline.
var builtinInputs = map[string]speech.InputFactory{
	portaudio.Name: portaudio.NewFromProperties,
	wavfile.Name:   wavfile.NewFromProperties,
	wsinput.Name:   wsinput.NewFromProperties,
	silence.Name:   silence.NewFromProperties,
}

// builtinStages maps stage names to the factories that ship with voxline.
var builtinStages = map[string]speech.StageFactory{
	vad.Name:      vad.NewFromProperties,
	energy.Name:   energy.NewFromProperties,
	activity.Name: activity.NewFromProperties,
	timeout.Name:  timeout.NewFromProperties,
	sampler.Name:  sampler.NewFromProperties,
	whisper.Name:  whisper.NewFromProperties,
}

// RegisterBuiltins wires every built-in input and stage factory into reg.
func RegisterBuiltins(reg *config.Registry) {
	for name, f := range builtinInputs {
		reg.RegisterInput(name, f)
	}
	for name, f := range builtinStages {
		reg.RegisterStage(name, f)
	}
	slog.Debug("registered built-in components", "inputs", reg.Inputs(), "stages", reg.Stages())
}
