package resilience

import "time"

// Default backoff parameters.
const (
	defaultBackoff    = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Backoff produces exponentially growing delays, doubling from Initial up to
// Max. The zero value uses 1s and 30s. It is not safe for concurrent use.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	next time.Duration
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	initial, ceiling := b.Initial, b.Max
	if initial <= 0 {
		initial = defaultBackoff
	}
	if ceiling <= 0 {
		ceiling = defaultMaxBackoff
	}
	if b.next <= 0 {
		b.next = initial
	}
	d := min(b.next, ceiling)
	b.next = min(d*2, ceiling)
	return d
}

// Reset starts the sequence over.
func (b *Backoff) Reset() { b.next = 0 }
