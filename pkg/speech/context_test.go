package speech_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/speech"
	"github.com/MrWong99/voxline/pkg/speech/mock"
)

func TestSetActive_EdgeOnly(t *testing.T) {
	t.Parallel()
	sc := speech.NewContext()
	l := &mock.Listener{}
	sc.AddListener(l)

	sc.SetActive(false)
	if got := l.Events(); len(got) != 0 {
		t.Fatalf("SetActive(false) on inactive context dispatched %v", got)
	}

	sc.SetActive(true)
	sc.SetActive(true)
	if got := l.Count(speech.EventActivate); got != 1 {
		t.Errorf("activate events after two SetActive(true) = %d, want 1", got)
	}

	sc.SetActive(false)
	sc.SetActive(false)
	want := []speech.Event{speech.EventActivate, speech.EventDeactivate}
	if got := l.Events(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestSetters_NoEvents(t *testing.T) {
	t.Parallel()
	sc := speech.NewContext()
	l := &mock.Listener{}
	sc.AddListener(l)

	sc.SetManaged(true)
	sc.SetSpeech(true)
	sc.SetTranscript("hello")
	sc.SetConfidence(0.75)
	sc.SetError(errors.New("boom"))

	if got := l.Events(); len(got) != 0 {
		t.Fatalf("setters dispatched %v", got)
	}
	if !sc.IsManaged() || !sc.IsSpeech() || sc.Transcript() != "hello" || sc.Confidence() != 0.75 || sc.Err() == nil {
		t.Errorf("setters did not store values")
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	sc := speech.NewContext()
	l := &mock.Listener{}
	sc.AddListener(l)

	sc.Timeout()
	if got := l.Events(); len(got) != 0 {
		t.Fatalf("Timeout on inactive context dispatched %v", got)
	}

	sc.SetActive(true)
	sc.Timeout()
	if sc.IsActive() {
		t.Error("context still active after Timeout")
	}
	want := []speech.Event{speech.EventActivate, speech.EventTimeout}
	if got := l.Events(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestFail(t *testing.T) {
	t.Parallel()
	sc := speech.NewContext()
	l := &mock.Listener{}
	sc.AddListener(l)

	want := errors.New("stage exploded")
	sc.Fail(want)
	if !errors.Is(sc.Err(), want) {
		t.Errorf("Err() = %v, want %v", sc.Err(), want)
	}
	if got := l.Events(); !slices.Equal(got, []speech.Event{speech.EventError}) {
		t.Errorf("events = %v, want [error]", got)
	}
}

func TestDispatch_Order(t *testing.T) {
	t.Parallel()
	sc := speech.NewContext()
	var order []int
	for i := range 3 {
		sc.AddListener(speech.ListenerFunc(func(speech.Event, *speech.Context) error {
			order = append(order, i)
			return nil
		}))
	}
	sc.Dispatch(speech.EventRecognize)
	if !slices.Equal(order, []int{0, 1, 2}) {
		t.Errorf("dispatch order = %v, want [0 1 2]", order)
	}
}

func TestDispatch_FaultIsolation(t *testing.T) {
	tests := []struct {
		name   string
		middle *mock.Listener
	}{
		{"error", &mock.Listener{Err: errors.New("listener 2 failed")}},
		{"panic", &mock.Listener{Panic: "listener 2 panicked"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var failures int
			sc := speech.NewContext(
				speech.WithTraceLevel(speech.TraceInfo),
				speech.WithFailureHook(func(speech.Event, error) { failures++ }),
			)
			first, last := &mock.Listener{}, &mock.Listener{}
			sc.AddListener(first)
			sc.AddListener(tt.middle)
			sc.AddListener(last)

			sc.Dispatch(speech.EventRecognize)

			// Every listener sees the recognize event and exactly one trace
			// describing the failure. The middle listener also fails on that
			// trace, which must not produce a nested trace.
			for name, l := range map[string]*mock.Listener{"first": first, "middle": tt.middle, "last": last} {
				if l.Count(speech.EventRecognize) != 1 || l.Count(speech.EventTrace) != 1 {
					t.Errorf("%s listener events = %v, want one recognize and one trace", name, l.Events())
				}
			}
			msgs := last.Messages()
			if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "dispatch-failed: ") {
				t.Errorf("trace messages = %q, want one dispatch-failed message", msgs)
			}
			if failures != 2 {
				t.Errorf("failure hook calls = %d, want 2", failures)
			}
		})
	}
}

func TestDispatch_FailureTraceSuppressedByThreshold(t *testing.T) {
	t.Parallel()
	sc := speech.NewContext()
	bad := &mock.Listener{Err: errors.New("nope")}
	sc.AddListener(bad)
	sc.Dispatch(speech.EventActivate)
	if got := bad.Events(); !slices.Equal(got, []speech.Event{speech.EventActivate}) {
		t.Errorf("events = %v, want only activate with tracing disabled", got)
	}
}

func TestAddListener_RemoveDuringDispatch(t *testing.T) {
	t.Parallel()
	sc := speech.NewContext()

	second := &mock.Listener{}
	var removeSecond func()
	first := &mock.Listener{OnEventFunc: func(speech.Event, *speech.Context) {
		if removeSecond != nil {
			removeSecond()
		}
	}}
	sc.AddListener(first)
	removeSecond = sc.AddListener(second)
	third := &mock.Listener{}
	sc.AddListener(third)

	// The in-flight dispatch keeps its snapshot.
	sc.Dispatch(speech.EventRecognize)
	if second.Count(speech.EventRecognize) != 1 || third.Count(speech.EventRecognize) != 1 {
		t.Fatalf("snapshot dispatch skipped a listener: second=%v third=%v", second.Events(), third.Events())
	}

	sc.Dispatch(speech.EventRecognize)
	if second.Count(speech.EventRecognize) != 1 {
		t.Errorf("removed listener still received events: %v", second.Events())
	}
	if third.Count(speech.EventRecognize) != 2 {
		t.Errorf("third listener events = %v, want two recognize", third.Events())
	}
	if sc.ListenerCount() != 2 {
		t.Errorf("ListenerCount() = %d, want 2", sc.ListenerCount())
	}
	removeSecond()
	if sc.ListenerCount() != 2 {
		t.Errorf("second remove changed ListenerCount to %d", sc.ListenerCount())
	}
}

func TestAddListener_DuringDispatch(t *testing.T) {
	t.Parallel()
	sc := speech.NewContext()
	late := &mock.Listener{}
	added := false
	sc.AddListener(speech.ListenerFunc(func(speech.Event, *speech.Context) error {
		if !added {
			added = true
			sc.AddListener(late)
		}
		return nil
	}))

	sc.Dispatch(speech.EventActivate)
	if got := late.Events(); len(got) != 0 {
		t.Errorf("listener added mid-dispatch received %v", got)
	}
	sc.Dispatch(speech.EventDeactivate)
	if got := late.Events(); !slices.Equal(got, []speech.Event{speech.EventDeactivate}) {
		t.Errorf("late listener events = %v, want [deactivate]", got)
	}
}

func TestTrace_Threshold(t *testing.T) {
	tests := []struct {
		threshold speech.TraceLevel
		want      []string
	}{
		{speech.TraceDebug, []string{"d", "p", "i"}},
		{speech.TracePerf, []string{"p", "i"}},
		{speech.TraceInfo, []string{"i"}},
		{speech.TraceNone, nil},
	}
	for _, tt := range tests {
		t.Run(tt.threshold.String(), func(t *testing.T) {
			t.Parallel()
			sc := speech.NewContext(speech.WithTraceLevel(tt.threshold))
			l := &mock.Listener{}
			sc.AddListener(l)

			sc.TraceDebug("d")
			sc.TracePerf("p")
			sc.TraceInfo("i")

			if got := l.Messages(); !slices.Equal(got, tt.want) {
				t.Errorf("messages = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrace_SetsMessage(t *testing.T) {
	t.Parallel()
	sc := speech.NewContext(speech.WithTraceLevel(speech.TraceDebug))
	if _, ok := sc.Message(); ok {
		t.Fatal("fresh context has a message")
	}
	sc.TraceDebug("frame %d", 7)
	if msg, ok := sc.Message(); !ok || msg != "frame 7" {
		t.Errorf("Message() = %q, %v; want \"frame 7\", true", msg, ok)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	sc := speech.NewContext(speech.WithTraceLevel(speech.TraceDebug))
	l := &mock.Listener{}
	sc.AddListener(l)

	ring, err := audio.NewFrameRing(4, 2)
	if err != nil {
		t.Fatalf("NewFrameRing: %v", err)
	}
	sc.AttachRing(ring)
	sc.SetActive(true)
	sc.SetManaged(true)
	sc.SetSpeech(true)
	sc.SetTranscript("turn on the lights")
	sc.SetConfidence(0.9)
	sc.SetError(errors.New("old"))
	sc.TraceDebug("msg")

	sc.Reset()

	if sc.IsActive() || sc.IsManaged() || sc.IsSpeech() {
		t.Error("flags not cleared")
	}
	if sc.Transcript() != "" || sc.Confidence() != 0 || sc.Err() != nil {
		t.Error("recognition state not cleared")
	}
	if _, ok := sc.Message(); ok {
		t.Error("message not cleared")
	}
	if sc.Ring() != ring {
		t.Error("Reset detached the ring")
	}
	if sc.ListenerCount() != 1 {
		t.Errorf("Reset dropped listeners: %d left", sc.ListenerCount())
	}
	if got := l.Events(); got[len(got)-1] != speech.EventDeactivate {
		t.Errorf("last event = %v, want deactivate", got[len(got)-1])
	}
	if sc.TraceThreshold() != speech.TraceDebug {
		t.Errorf("Reset changed trace threshold to %v", sc.TraceThreshold())
	}

	sc.DetachRing()
	if sc.Ring() != nil {
		t.Error("DetachRing left the ring attached")
	}
}
