package config

// Profile is a named pipeline preset.
type Profile struct {
	Input      string
	Stages     []string
	Properties map[string]any
}

// Profiles lists the built-in presets selectable through pipeline.profile.
var Profiles = map[string]Profile{
	// vad-trigger activates on detected speech and ends the activation on
	// sustained silence or after wake-active-max.
	"vad-trigger": {
		Input:  "portaudio",
		Stages: []string{"webrtc-vad", "activity-filter", "activation-timeout"},
		Properties: map[string]any{
			"vad-mode": "very-aggressive",
		},
	},
	// push-to-talk relies on manual activation through the control API. The
	// guard still bounds how long a forgotten activation may last.
	"push-to-talk": {
		Input:  "portaudio",
		Stages: []string{"webrtc-vad", "activation-timeout"},
		Properties: map[string]any{
			"wake-speech-fall": false,
		},
	},
	// vad-sampler records every detected utterance to a rotating set of WAV
	// files without activating anything.
	"vad-sampler": {
		Input:  "portaudio",
		Stages: []string{"webrtc-vad", "speech-sampler"},
		Properties: map[string]any{
			"vad-mode":             "very-aggressive",
			"sample-log-path":      "samples",
			"sample-log-max-files": 10,
		},
	},
	// whisper-vad transcribes each activation on-device.
	"whisper-vad": {
		Input:  "portaudio",
		Stages: []string{"webrtc-vad", "activity-filter", "activation-timeout", "whisper"},
		Properties: map[string]any{
			"vad-mode":         "very-aggressive",
			"fall-delay":       700,
			"whisper-language": "en",
		},
	},
}
