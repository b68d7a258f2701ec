package swapd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/swapdhq/swapd/test"
)

// runQueue starts a queue with the given notify callback and returns its
// cancel and a channel carrying the run result.
func runQueue(q *serialQueue,
	notify func(context.Context, string, string)) (context.CancelFunc,
	chan error) {

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- q.run(ctx, notify)
	}()

	return cancel, errChan
}

// stopQueue cancels the queue and asserts a clean exit.
func stopQueue(t *testing.T, cancel context.CancelFunc, errChan chan error) {
	t.Helper()

	cancel()

	select {
	case err := <-errChan:
		require.ErrorIs(t, err, context.Canceled)

	case <-time.After(test.Timeout):
		t.Fatal("queue did not stop")
	}
}

// TestSerialQueueOrder verifies that handlers run strictly in submission
// order.
func TestSerialQueueOrder(t *testing.T) {
	defer test.Guard(t)()

	q := newSerialQueue("test", 0)

	var (
		mu   sync.Mutex
		seen []int
		done = make(chan struct{})
	)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		i := i
		err := q.submit(ctx, "swap", "ordered", func(
			context.Context) error {

			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()

			if i == 19 {
				close(done)
			}

			return nil
		})
		require.NoError(t, err)
	}

	cancel, errChan := runQueue(q, func(context.Context, string, string) {})

	select {
	case <-done:
	case <-time.After(test.Timeout):
		t.Fatal("tasks did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 20)
	for i, got := range seen {
		require.Equal(t, i, got)
	}

	stopQueue(t, cancel, errChan)
}

// TestSerialQueueHandlerError verifies that a failing handler is reported and
// does not stall the queue.
func TestSerialQueueHandlerError(t *testing.T) {
	defer test.Guard(t)()

	q := newSerialQueue("test", 0)

	notifications := make(chan string, 10)
	cancel, errChan := runQueue(
		q, func(_ context.Context, swapID, message string) {
			notifications <- swapID + ": " + message
		},
	)

	ctx := context.Background()
	err := q.submit(ctx, "broken", "failing", func(context.Context) error {
		return errors.New("lockup vanished")
	})
	require.NoError(t, err)

	ran := make(chan struct{})
	err = q.submit(ctx, "healthy", "next", func(context.Context) error {
		close(ran)
		return nil
	})
	require.NoError(t, err)

	select {
	case n := <-notifications:
		require.Equal(t, "broken: lockup vanished", n)

	case <-time.After(test.Timeout):
		t.Fatal("no failure notification")
	}

	select {
	case <-ran:
	case <-time.After(test.Timeout):
		t.Fatal("queue stalled after handler error")
	}

	stopQueue(t, cancel, errChan)
}

// TestSerialQueuePanicRecovery verifies that a panicking handler is contained
// and reported without taking the queue down.
func TestSerialQueuePanicRecovery(t *testing.T) {
	defer test.Guard(t)()

	q := newSerialQueue("test", 0)

	notifications := make(chan string, 10)
	cancel, errChan := runQueue(
		q, func(_ context.Context, _, message string) {
			notifications <- message
		},
	)

	ctx := context.Background()
	err := q.submit(ctx, "boom", "panicking", func(context.Context) error {
		panic("nil pointer somewhere")
	})
	require.NoError(t, err)

	ran := make(chan struct{})
	err = q.submit(ctx, "healthy", "next", func(context.Context) error {
		close(ran)
		return nil
	})
	require.NoError(t, err)

	select {
	case n := <-notifications:
		require.Equal(t, "internal error, see log", n)

	case <-time.After(test.Timeout):
		t.Fatal("no panic notification")
	}

	select {
	case <-ran:
	case <-time.After(test.Timeout):
		t.Fatal("queue stalled after panic")
	}

	stopQueue(t, cancel, errChan)
}

// TestSerialQueueCancelledHandlerSilent verifies that a handler giving up on
// a cancelled context is not reported as a failure.
func TestSerialQueueCancelledHandlerSilent(t *testing.T) {
	defer test.Guard(t)()

	q := newSerialQueue("test", 0)

	notifications := make(chan string, 10)
	cancel, errChan := runQueue(
		q, func(_ context.Context, _, message string) {
			notifications <- message
		},
	)

	ctx := context.Background()
	err := q.submit(ctx, "shutdown", "cancelled", func(
		context.Context) error {

		return context.Canceled
	})
	require.NoError(t, err)

	ran := make(chan struct{})
	err = q.submit(ctx, "healthy", "next", func(context.Context) error {
		close(ran)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-ran:
	case <-time.After(test.Timeout):
		t.Fatal("queue stalled")
	}

	select {
	case n := <-notifications:
		t.Fatalf("unexpected notification %q", n)
	default:
	}

	stopQueue(t, cancel, errChan)
}

// TestSerialQueueSubmitBlocked verifies that submission to a full queue fails
// with the context error instead of dropping the task.
func TestSerialQueueSubmitBlocked(t *testing.T) {
	defer test.Guard(t)()

	q := newSerialQueue("test", 1)

	ctx := context.Background()
	err := q.submit(ctx, "first", "fills", func(context.Context) error {
		return nil
	})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	err = q.submit(cancelled, "second", "blocked", func(
		context.Context) error {

		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
