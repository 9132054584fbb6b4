// Package ringchan provides the bounded overwrite-oldest channel that carries
// discovery and telemetry events to the application. Producers (transport
// callbacks, removal timers) must never block on a slow consumer; when the
// buffer is full the oldest event is discarded and counted.
package ringchan

import "sync/atomic"

// Ring is a bounded channel-like buffer with overwrite-oldest semantics.
// Readers consume through C() like a normal channel; writers use Send, which
// always succeeds without blocking indefinitely.
type Ring[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a Ring with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over it
// until Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send inserts an event, discarding the oldest buffered event if the ring is
// full. Returns true if an event was discarded to make room.
func (r *Ring[T]) Send(v T) bool {
	dropped := false
	select {
	case r.ch <- v:
		r.metrics.addWritten(1)
	default:
		select {
		case <-r.ch: // drop oldest
			r.metrics.addOverwritten(1)
			dropped = true
		default:
		}
		r.ch <- v
		r.metrics.addWritten(1)
	}
	return dropped
}

// TryReceive attempts a non-blocking receive. Returns (zero, false) if no
// event is buffered.
func (r *Ring[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-r.ch:
		if ok {
			r.metrics.addProcessed(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered events.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close closes the underlying channel. Send panics after Close; the owner of
// the ring is responsible for sequencing shutdown.
func (r *Ring[T]) Close() {
	close(r.ch)
}

// Snapshot returns the current metric values. All reads are atomic.
func (r *Ring[T]) Snapshot() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&r.metrics.Processed),
		Written:     atomic.LoadInt64(&r.metrics.Written),
		Overwritten: atomic.LoadInt64(&r.metrics.Overwritten),
	}
}

// Metrics tracks ring throughput with lock-free counters.
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
