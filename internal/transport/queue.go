package transport

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/groutine"
)

// SerialQueue is the single serial execution context of the stack. Transport
// adapters deliver every callback through it, removal timers fire onto it,
// and application-initiated operations hop onto it before touching shared
// state; the discovery registry and session state machine are mutated from
// this context only, which is what makes them lock-free.
type SerialQueue struct {
	tasks  chan func()
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	logger *logrus.Logger
}

// queueDepth bounds the number of queued tasks before Dispatch blocks,
// applying backpressure to a transport that outruns the consumer.
const queueDepth = 256

// NewSerialQueue creates the queue and starts its worker goroutine.
func NewSerialQueue(logger *logrus.Logger) *SerialQueue {
	q := &SerialQueue{
		tasks:  make(chan func(), queueDepth),
		logger: logger,
	}
	q.wg.Add(1)
	groutine.Go(context.Background(), "transport-queue", func(ctx context.Context) {
		defer q.wg.Done()
		for fn := range q.tasks {
			q.run(fn)
		}
	})
	return q
}

func (q *SerialQueue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil && q.logger != nil {
			q.logger.WithField("panic", r).Error("Queued task panicked")
		}
	}()
	fn()
}

// Dispatch enqueues fn for execution on the queue worker. Returns false if
// the queue is already closed; the task is then dropped, which is the
// expected outcome for transport callbacks racing a shutdown.
func (q *SerialQueue) Dispatch(fn func()) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.tasks <- fn
	return true
}

// DispatchSync enqueues fn and waits for it to complete. Must not be called
// from the queue worker itself; that would deadlock, and callers inside the
// worker can simply call fn directly.
func (q *SerialQueue) DispatchSync(fn func()) bool {
	done := make(chan struct{})
	ok := q.Dispatch(func() {
		defer close(done)
		fn()
	})
	if !ok {
		return false
	}
	<-done
	return true
}

// AfterFunc schedules fn to run on the queue after d. The returned timer's
// Stop and Reset behave like time.Timer's; a timer that fires after Stop
// delivers nothing.
func (q *SerialQueue) AfterFunc(d time.Duration, fn func()) *QueueTimer {
	t := &QueueTimer{queue: q, fn: fn}
	t.timer = time.AfterFunc(d, t.fire)
	return t
}

// Close stops accepting tasks and waits for the worker to drain what was
// already queued.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

// QueueTimer fires a function on its owning serial queue.
type QueueTimer struct {
	queue *SerialQueue
	timer *time.Timer
	fn    func()
	mu    sync.Mutex
	dead  bool
}

func (t *QueueTimer) fire() {
	t.mu.Lock()
	dead := t.dead
	t.mu.Unlock()
	if dead {
		return
	}
	t.queue.Dispatch(t.fn)
}

// Stop cancels the timer. A concurrent in-flight fire may still run the
// callback once; owners that care (the discovery registry does) must
// re-validate their expiry condition inside the callback.
func (t *QueueTimer) Stop() {
	t.mu.Lock()
	t.dead = true
	t.mu.Unlock()
	t.timer.Stop()
}

// Reset re-arms the timer for d from now.
func (t *QueueTimer) Reset(d time.Duration) {
	t.mu.Lock()
	t.dead = false
	t.mu.Unlock()
	t.timer.Reset(d)
}
