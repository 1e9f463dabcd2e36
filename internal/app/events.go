package app

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxline/pkg/speech"
)

// subscriberBuffer is the number of events queued per subscriber before
// further events are dropped for it.
const subscriberBuffer = 64

// EventMessage is the JSON form of a pipeline event as streamed to clients.
type EventMessage struct {
	Event      speech.Event `json:"event"`
	Time       time.Time    `json:"time"`
	Active     bool         `json:"active"`
	Transcript string       `json:"transcript,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	Message    string       `json:"message,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Hub fans pipeline events out to subscribers. It is a [speech.Listener]
// and never blocks the dispatching goroutine: a subscriber that falls
// behind misses events.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]chan []byte
	nextID uint64
	closed bool
}

// NewHub returns a hub without subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan []byte)}
}

// OnEvent implements [speech.Listener].
func (h *Hub) OnEvent(e speech.Event, sc *speech.Context) error {
	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()
	if n == 0 {
		return nil
	}

	msg := EventMessage{
		Event:  e,
		Time:   time.Now().UTC(),
		Active: sc.IsActive(),
	}
	switch e {
	case speech.EventRecognize:
		msg.Transcript = sc.Transcript()
		msg.Confidence = sc.Confidence()
	case speech.EventTrace:
		msg.Message, _ = sc.Message()
	case speech.EventError:
		if err := sc.Err(); err != nil {
			msg.Error = err.Error()
		}
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- b:
		default:
			slog.Debug("event subscriber behind; dropping event", "subscriber", id, "event", e)
		}
	}
	return nil
}

// Subscribe registers a subscriber and returns its channel of JSON encoded
// [EventMessage] values together with a cancel func that unregisters it and
// closes the channel.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Close closes every subscriber channel. Later subscribers receive a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

var _ speech.Listener = (*Hub)(nil)
