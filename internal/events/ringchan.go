// Package events provides the typed event channels the engine publishes on:
// link status transitions, decoded samples, and raw diagnostic text. Each
// channel is bounded with drop-oldest semantics so a stalled consumer (a
// slow log view, a paused UI) can never block the notification path.
package events

// RingChannel is a bounded channel with overwrite-oldest semantics.
// Producers never block: when the buffer is full the oldest element is
// discarded to make room. Consumers range over C() like a normal channel.
type RingChannel[T any] struct {
	ch chan T
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("events: ring channel capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Consumers can range over it until Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest buffered element if the
// channel is full. It never blocks indefinitely.
func (rc *RingChannel[T]) Send(v T) {
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
		default:
		}
		rc.ch <- v
	}
}

// TryReceive attempts a non-blocking receive. Returns (zero, false) if no
// value is buffered.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Close closes the channel. Sending after Close panics; the producer owns
// the channel and closes it exactly once on teardown.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
