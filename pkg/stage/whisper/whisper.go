// Package whisper is the recogniser stage. It collects the audio of an
// activation, including the pre-roll still held in the frame ring, and hands
// it to a [Transcriber] once the activation ends. Recognition runs off the
// pipeline worker. Its result is handed back to the worker, which stores it on
// the context and announces RECOGNIZE on the next frame, or on Close.
package whisper

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Name is the registry key of the stage.
const Name = "whisper"

// Property keys.
const (
	KeyModel      = "whisper-model"
	KeyLanguage   = "whisper-language"
	KeyMaxSeconds = "whisper-max-seconds"
)

const (
	// ModelSampleRate is the sample rate whisper.cpp expects.
	ModelSampleRate = 16000

	defaultLanguage   = "en"
	defaultMaxSeconds = 30
)

// Result is the outcome of one recognition.
type Result struct {
	Text string
	// Confidence is in [0, 1).
	Confidence float64
}

// Transcriber turns 16 kHz mono float32 samples into text.
type Transcriber interface {
	Transcribe(samples []float32) (Result, error)
	Close() error
}

type job struct {
	sc      *speech.Context
	samples []float32
}

// outcome is a finished recognition waiting for the worker.
type outcome struct {
	sc  *speech.Context
	res Result
	err error
}

// Stage buffers active audio and recognises it on deactivation.
type Stage struct {
	tr         Transcriber
	sampleRate int
	maxSamples int

	buf       []float32
	wasActive bool
	truncated bool
	ring      []*audio.Frame

	jobs chan job
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending []outcome

	closeOnce sync.Once
	closeErr  error
}

// Option configures a [Stage].
type Option func(*Stage)

// WithMaxDuration caps the audio kept for one activation. Later frames are
// dropped.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Stage) {
		s.maxSamples = int(d * ModelSampleRate / time.Second)
	}
}

// New returns a recogniser for frames at sampleRate. The stage owns tr and
// closes it on Close.
func New(tr Transcriber, sampleRate int, opts ...Option) (*Stage, error) {
	if tr == nil {
		return nil, errors.New("whisper: transcriber must not be nil")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("whisper: sample rate must be positive, got %d", sampleRate)
	}
	s := &Stage{
		tr:         tr,
		sampleRate: sampleRate,
		maxSamples: defaultMaxSeconds * ModelSampleRate,
		jobs:       make(chan job, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// NewFromProperties loads the model named by whisper-model and returns a
// stage backed by it.
func NewFromProperties(p speech.Properties) (speech.Stage, error) {
	model, err := p.String(KeyModel)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	rate, err := p.Int(speech.KeySampleRate)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	maxSeconds, err := p.IntDefault(KeyMaxSeconds, defaultMaxSeconds)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if maxSeconds <= 0 {
		return nil, fmt.Errorf("whisper: %s must be positive, got %d", KeyMaxSeconds, maxSeconds)
	}
	tr, err := NewNative(model, p.StringDefault(KeyLanguage, defaultLanguage))
	if err != nil {
		return nil, err
	}
	return New(tr, rate, WithMaxDuration(time.Duration(maxSeconds)*time.Second))
}

// Process announces finished recognitions, then collects audio while the
// context is active and submits it for recognition on the falling edge.
func (s *Stage) Process(sc *speech.Context, frame *audio.Frame) error {
	s.deliver()
	active := sc.IsActive()
	defer func() { s.wasActive = active }()

	if active {
		if !s.wasActive {
			s.preRoll(sc, frame)
		}
		s.appendFrame(sc, frame)
		return nil
	}
	if s.wasActive {
		s.submit(sc)
	}
	return nil
}

// preRoll seeds the buffer with the ring history preceding frame.
func (s *Stage) preRoll(sc *speech.Context, frame *audio.Frame) {
	r := sc.Ring()
	if r == nil {
		return
	}
	s.ring = r.Frames(s.ring[:0])
	for _, f := range s.ring {
		if f == frame {
			continue
		}
		s.appendFrame(sc, f)
	}
}

func (s *Stage) appendFrame(sc *speech.Context, f *audio.Frame) {
	if len(s.buf) >= s.maxSamples {
		if !s.truncated {
			s.truncated = true
			sc.TraceInfo("recogniser buffer full after %d samples; dropping further audio", len(s.buf))
		}
		return
	}
	pcm := f.Bytes()
	if s.sampleRate != ModelSampleRate {
		pcm = audio.ResampleMono16(pcm, s.sampleRate, ModelSampleRate)
	}
	s.buf = audio.AppendFloat32(s.buf, pcm)
}

func (s *Stage) submit(sc *speech.Context) {
	samples := s.buf
	s.buf = nil
	s.truncated = false
	if len(samples) == 0 {
		return
	}
	select {
	case s.jobs <- job{sc: sc, samples: samples}:
	default:
		sc.TraceInfo("recogniser busy; dropping %d samples", len(samples))
	}
}

func (s *Stage) loop() {
	defer s.wg.Done()
	for j := range s.jobs {
		start := time.Now()
		res, err := s.tr.Transcribe(j.samples)
		if err == nil {
			slog.Debug("recognition finished",
				"samples", len(j.samples),
				"duration", time.Since(start),
				"confidence", res.Confidence,
			)
		}
		s.mu.Lock()
		s.pending = append(s.pending, outcome{sc: j.sc, res: res, err: err})
		s.mu.Unlock()
	}
}

// deliver publishes finished recognitions on the calling goroutine, which is
// the pipeline worker.
func (s *Stage) deliver() {
	s.mu.Lock()
	done := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, o := range done {
		if o.err != nil {
			o.sc.Fail(fmt.Errorf("whisper: %w", o.err))
			continue
		}
		o.sc.SetTranscript(o.res.Text)
		o.sc.SetConfidence(o.res.Confidence)
		o.sc.Dispatch(speech.EventRecognize)
	}
}

// Buffered returns the number of 16 kHz samples collected for the current
// activation.
func (s *Stage) Buffered() int { return len(s.buf) }

// Reset discards the current activation without recognising it.
func (s *Stage) Reset() error {
	s.buf = nil
	s.wasActive = false
	s.truncated = false
	return nil
}

// Close waits for queued recognitions, announces their results and releases
// the transcriber.
func (s *Stage) Close() error {
	s.closeOnce.Do(func() {
		close(s.jobs)
		s.wg.Wait()
		s.deliver()
		s.closeErr = s.tr.Close()
	})
	return s.closeErr
}

var _ speech.Stage = (*Stage)(nil)
