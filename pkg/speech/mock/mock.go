// Package mock provides test doubles for the speech package interfaces.
//
// Every double records its calls under a mutex and exposes thread-safe
// accessors, so tests can inspect them while a pipeline worker is still
// running. No state is shared between instances.
//
// Example:
//
//	in := &mock.Input{Gate: make(chan struct{})}
//	st := &mock.Stage{}
//	reg.RegisterInput("test", mock.InputFactory(in))
//	reg.RegisterStage("probe", mock.StageFactory(st))
//	in.Gate <- struct{}{} // release exactly one frame
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
)

// Input is a mock implementation of speech.Input.
type Input struct {
	mu sync.Mutex

	// Data is copied into every frame, repeated to fill it. When nil, frames
	// are zeroed.
	Data []byte

	// Gate, if non-nil, makes every Read block until a value is received or
	// the context is cancelled. Tests use it to step the pipeline one frame
	// at a time.
	Gate chan struct{}

	// ReadErr, if non-nil, is returned once FailAfter reads have succeeded.
	ReadErr error

	// FailAfter is the number of successful reads before ReadErr is returned.
	FailAfter int

	// OnRead, if set, runs on the reading goroutine before the frame is
	// filled. n is the 1-based read number.
	OnRead func(n int, sc *speech.Context)

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	reads  int
	closes int
}

// Read records the call, waits on Gate when set and fills frame from Data.
func (in *Input) Read(ctx context.Context, sc *speech.Context, frame *audio.Frame) error {
	if in.Gate != nil {
		select {
		case <-in.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	in.mu.Lock()
	in.reads++
	n := in.reads
	fail := in.ReadErr != nil && n > in.FailAfter
	onRead := in.OnRead
	data := in.Data
	in.mu.Unlock()

	if onRead != nil {
		onRead(n, sc)
	}
	if fail {
		return in.ReadErr
	}
	fill(frame.Bytes(), data)
	frame.Rewind()
	return nil
}

// Close records the call and returns CloseErr.
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closes++
	return in.CloseErr
}

// ReadCount returns the number of Read calls that got past Gate.
func (in *Input) ReadCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.reads
}

// CloseCount returns the number of Close calls.
func (in *Input) CloseCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closes
}

// Ensure Input implements speech.Input at compile time.
var _ speech.Input = (*Input)(nil)

// Stage is a mock implementation of speech.Stage.
type Stage struct {
	mu sync.Mutex

	// Name labels the stage in the shared call log.
	Name string

	// Log, if non-nil, receives "<name>.<method>" for every call, so several
	// stages can record a single ordered history.
	Log *CallLog

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// ProcessPanic, if non-nil, is raised by every Process call.
	ProcessPanic any

	// OnProcess, if set, runs inside Process before it returns.
	OnProcess func(sc *speech.Context, frame *audio.Frame)

	// ResetErr, if non-nil, is returned by Reset.
	ResetErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	processes int
	resets    int
	closes    int
	frames    [][]byte
}

// Process records the call and a copy of the frame bytes read from the cursor.
func (s *Stage) Process(sc *speech.Context, frame *audio.Frame) error {
	buf := make([]byte, frame.Len())
	n, _ := frame.Read(buf)

	s.mu.Lock()
	s.processes++
	s.frames = append(s.frames, buf[:n])
	onProcess := s.OnProcess
	s.mu.Unlock()
	s.Log.add(s.Name, "process")

	if onProcess != nil {
		onProcess(sc, frame)
	}
	if s.ProcessPanic != nil {
		panic(s.ProcessPanic)
	}
	return s.ProcessErr
}

// Reset records the call and returns ResetErr.
func (s *Stage) Reset() error {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
	s.Log.add(s.Name, "reset")
	return s.ResetErr
}

// Close records the call and returns CloseErr.
func (s *Stage) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.Log.add(s.Name, "close")
	return s.CloseErr
}

// Counts returns the number of Process, Reset and Close calls.
func (s *Stage) Counts() (process, reset, close int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processes, s.resets, s.closes
}

// Frames returns copies of the bytes each Process call could read.
func (s *Stage) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// Ensure Stage implements speech.Stage at compile time.
var _ speech.Stage = (*Stage)(nil)

// CallLog is an ordered, thread-safe record of stage calls.
type CallLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *CallLog) add(name, method string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, name+"."+method)
}

// Entries returns a copy of the recorded calls.
func (l *CallLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// Listener is a mock implementation of speech.Listener.
type Listener struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every OnEvent call.
	Err error

	// Panic, if non-nil, is raised by every OnEvent call.
	Panic any

	// OnEventFunc, if set, runs before the call returns.
	OnEventFunc func(e speech.Event, sc *speech.Context)

	events   []speech.Event
	messages []string
}

// OnEvent records the event (and the trace message for trace events).
func (l *Listener) OnEvent(e speech.Event, sc *speech.Context) error {
	l.mu.Lock()
	l.events = append(l.events, e)
	if e == speech.EventTrace {
		msg, _ := sc.Message()
		l.messages = append(l.messages, msg)
	}
	fn := l.OnEventFunc
	l.mu.Unlock()

	if fn != nil {
		fn(e, sc)
	}
	if l.Panic != nil {
		panic(l.Panic)
	}
	return l.Err
}

// Events returns a copy of the received events in order.
func (l *Listener) Events() []speech.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]speech.Event(nil), l.events...)
}

// Count returns how many times e was received.
func (l *Listener) Count(e speech.Event) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.events {
		if got == e {
			n++
		}
	}
	return n
}

// Messages returns the trace messages seen with each trace event.
func (l *Listener) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

// Ensure Listener implements speech.Listener at compile time.
var _ speech.Listener = (*Listener)(nil)

// InputFactory returns a speech.InputFactory that always yields in.
func InputFactory(in *Input) speech.InputFactory {
	return func(speech.Properties) (speech.Input, error) { return in, nil }
}

// StageFactory returns a speech.StageFactory that always yields s.
func StageFactory(s *Stage) speech.StageFactory {
	return func(speech.Properties) (speech.Stage, error) { return s, nil }
}

func fill(dst, pattern []byte) {
	if len(pattern) == 0 {
		clear(dst)
		return
	}
	for i := 0; i < len(dst); i += copy(dst[i:], pattern) {
	}
}
