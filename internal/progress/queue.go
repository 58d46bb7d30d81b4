package progress

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrQueueClosed is returned by Deliver once the consumer has gone away.
var ErrQueueClosed = errors.New("progress: queue closed")

// Queue is a bounded channel of updates with two send disciplines:
//
//   - Offer: intermediate progress. Waits at most the configured timeout for space and
//     then drops the update. A dropped update loses nothing because every update carries
//     cumulative counts.
//   - Deliver: terminal updates. Waits until the consumer accepts the update or the queue
//     is closed. Terminal updates are never dropped.
//
// The queue is never closed for sending; Close only signals senders that nobody reads.
type Queue struct {
	ch      chan Update
	wait    time.Duration
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
	onDrop  func(Update)
}

// QueueOption customizes a Queue.
type QueueOption func(*Queue)

// WithDropHook registers a function called for every dropped update.
func WithDropHook(fn func(Update)) QueueOption {
	return func(q *Queue) {
		q.onDrop = fn
	}
}

// NewQueue creates a queue holding up to capacity updates. Offer waits up to wait for
// space before dropping; a zero wait drops immediately when the queue is full.
func NewQueue(capacity int, wait time.Duration, opts ...QueueOption) *Queue {
	if capacity < 1 {
		capacity = 1
	}

	q := &Queue{
		ch:   make(chan Update, capacity),
		wait: wait,
		done: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Updates is the consumer side.
func (q *Queue) Updates() <-chan Update {
	return q.ch
}

// Offer enqueues u unless the queue stays full for longer than the configured wait or
// ctx is done. It reports whether the update was accepted.
func (q *Queue) Offer(ctx context.Context, u Update) bool {
	select {
	case q.ch <- u:
		return true
	default:
	}

	if q.wait > 0 && !q.closed.Load() {
		timer := time.NewTimer(q.wait)
		defer timer.Stop()

		select {
		case q.ch <- u:
			return true
		case <-timer.C:
		case <-ctx.Done():
		case <-q.done:
		}
	}

	q.dropped.Add(1)

	if q.onDrop != nil {
		q.onDrop(u)
	}

	return false
}

// Deliver enqueues u, blocking until there is space or the queue is closed.
func (q *Queue) Deliver(u Update) error {
	select {
	case q.ch <- u:
		return nil
	case <-q.done:
		return ErrQueueClosed
	}
}

// Dropped returns the number of updates Offer has discarded.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close releases blocked senders. It is safe to call more than once.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
}
