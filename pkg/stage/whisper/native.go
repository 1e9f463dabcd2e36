// This file contains the Transcriber backed by the whisper.cpp CGO bindings.
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Native runs whisper.cpp in process. The model is loaded once; every
// recognition uses a fresh context from it.
type Native struct {
	model    whisperlib.Model
	language string
}

// NewNative loads the model at modelPath. An empty language selects English.
func NewNative(modelPath, language string) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	if language == "" {
		language = defaultLanguage
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &Native{model: model, language: language}, nil
}

// Transcribe runs inference over samples and joins the segment texts. The
// confidence is the mean token probability.
func (n *Native) Transcribe(samples []float32) (Result, error) {
	wctx, err := n.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts  []string
		probs  []float32
		result Result
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			probs = append(probs, tok.P)
		}
	}
	result.Text = strings.Join(parts, " ")
	result.Confidence = meanConfidence(probs)
	return result, nil
}

// Close releases the model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// meanConfidence averages token probabilities into [0, 1).
func meanConfidence(probs []float32) float64 {
	if len(probs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range probs {
		sum += float64(max(0, min(p, 1)))
	}
	return min(sum/float64(len(probs)), maxConfidence)
}

// maxConfidence keeps a perfect score inside the half-open range.
const maxConfidence = 0.9999

var _ Transcriber = (*Native)(nil)
