package ring

import "sync/atomic"

// Channel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// It wraps an underlying buffered channel and ensures producers never block
// indefinitely: when the buffer is full, the oldest element is discarded to
// make room. This makes it suitable for event fan-out where consumers may lag
// but producers (radio callbacks, the session loop) must never stall.
//
// Writers use Send, TrySend or ForceSend. Readers can use C() for a normal
// <-chan T, or Receive()/TryReceive() which additionally track metrics.
type Channel[T any] struct {
	ch      chan T
	metrics Metrics
}

// NewChannel creates a Channel with the given capacity.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		panic("ring: capacity must be > 0")
	}
	return &Channel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over it
// until Close.
//
// Reads via C() bypass metrics tracking; the Processed counter is only
// incremented by Receive and TryReceive.
func (rc *Channel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest buffered element if the channel
// is full. It never blocks indefinitely.
func (rc *Channel[T]) Send(v T) {
	select {
	case rc.ch <- v:
		rc.metrics.addWritten(1)
	default:
		<-rc.ch // drop oldest
		rc.metrics.addOverwritten(1)
		rc.ch <- v
		rc.metrics.addWritten(1)
	}
}

// TrySend attempts to insert without blocking. Returns false if the buffer is
// full.
func (rc *Channel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.metrics.addWritten(1)
		return true
	default:
		return false
	}
}

// ForceSend always succeeds immediately, discarding the oldest element if
// needed. Returns true if an element was dropped to make room.
func (rc *Channel[T]) ForceSend(v T) bool {
	dropped := false

	select {
	case rc.ch <- v:
		rc.metrics.addWritten(1)
	default:
		select {
		case <-rc.ch: // drop oldest
			rc.metrics.addOverwritten(1)
			dropped = true
		default:
		}
		rc.ch <- v
		rc.metrics.addWritten(1)
	}

	return dropped
}

// Receive blocks until a value is available or the channel is closed. The ok
// result is false if the channel is closed.
func (rc *Channel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.metrics.addProcessed(1)
	}
	return
}

// TryReceive attempts a non-blocking receive. Returns (zero, false) if no
// value is ready.
func (rc *Channel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.addProcessed(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *Channel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *Channel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. After Close, any Send variant panics.
func (rc *Channel[T]) Close() {
	close(rc.ch)
}

// GetMetrics returns a snapshot of the current metrics values.
func (rc *Channel[T]) GetMetrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics provides lock-free counters for a Channel. All fields are updated
// atomically.
type Metrics struct {
	Processed   int64
	Written     int64
	Overwritten int64
}

func (m *Metrics) addProcessed(n int) {
	atomic.AddInt64(&m.Processed, int64(n))
}

func (m *Metrics) addWritten(n int) {
	atomic.AddInt64(&m.Written, int64(n))
}

func (m *Metrics) addOverwritten(n int) {
	atomic.AddInt64(&m.Overwritten, int64(n))
}
