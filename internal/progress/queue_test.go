package progress

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_OfferAccepted(t *testing.T) {
	q := NewQueue(2, 10*time.Millisecond)

	require.True(t, q.Offer(context.Background(), Update{PointerID: "a", Progress: Known(1, 10)}))

	got := <-q.Updates()
	assert.Equal(t, "a", got.PointerID)
	assert.Equal(t, uint64(1), got.Progress.BytesDownloaded)
	assert.Zero(t, q.Dropped())
}

func TestQueue_OfferDropsAfterBoundedWait(t *testing.T) {
	var hooked atomic.Int32

	q := NewQueue(1, 20*time.Millisecond, WithDropHook(func(Update) { hooked.Add(1) }))

	require.True(t, q.Offer(context.Background(), Update{PointerID: "a"}))

	start := time.Now()
	accepted := q.Offer(context.Background(), Update{PointerID: "b"})
	elapsed := time.Since(start)

	assert.False(t, accepted)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, int32(1), hooked.Load())
}

func TestQueue_OfferZeroWaitDropsImmediately(t *testing.T) {
	q := NewQueue(1, 0)
	q.Offer(context.Background(), Update{})

	assert.False(t, q.Offer(context.Background(), Update{}))
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestQueue_OfferSucceedsWhenConsumerCatchesUp(t *testing.T) {
	q := NewQueue(1, time.Second)
	q.Offer(context.Background(), Update{PointerID: "first"})

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-q.Updates()
	}()

	assert.True(t, q.Offer(context.Background(), Update{PointerID: "second"}))
	assert.Equal(t, "second", (<-q.Updates()).PointerID)
}

func TestQueue_OfferCancelledContext(t *testing.T) {
	q := NewQueue(1, time.Hour)
	q.Offer(context.Background(), Update{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, q.Offer(ctx, Update{}))
}

func TestQueue_DeliverBlocksUntilConsumed(t *testing.T) {
	q := NewQueue(1, 0)
	q.Offer(context.Background(), Update{PointerID: "progress"})

	delivered := make(chan error, 1)

	go func() {
		delivered <- q.Deliver(Update{PointerID: "final", State: StateCompleted})
	}()

	select {
	case <-delivered:
		t.Fatal("Deliver returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	assert.Equal(t, "progress", (<-q.Updates()).PointerID)
	require.NoError(t, <-delivered)
	assert.Equal(t, StateCompleted, (<-q.Updates()).State)
}

func TestQueue_DeliverAfterClose(t *testing.T) {
	q := NewQueue(1, 0)
	q.Offer(context.Background(), Update{})
	q.Close()
	q.Close()

	err := q.Deliver(Update{State: StateFailed})
	assert.True(t, errors.Is(err, ErrQueueClosed))
}

func TestState(t *testing.T) {
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateAborted.IsTerminal())
	assert.False(t, StateInProgress.IsTerminal())
	assert.True(t, StateNotStarted.IsActive())
	assert.False(t, StateAborted.IsActive())
}

func TestProgressDone(t *testing.T) {
	assert.False(t, Progress{BytesDownloaded: 10}.Done())
	assert.False(t, Known(5, 10).Done())
	assert.True(t, Known(10, 10).Done())
}
