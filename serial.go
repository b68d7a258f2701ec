package swapd

import (
	"context"
	"errors"

	"github.com/swapdhq/swapd/swap"
)

// DefaultMaxPendingTasks is the default capacity of each category queue.
// Submission blocks once it is reached, slowing the watchers down instead of
// dropping events.
const DefaultMaxPendingTasks = 10_000

// handlerFunc is one unit of swap work dispatched to a category queue.
type handlerFunc func(ctx context.Context) error

// task is a queued handler together with the swap it operates on.
type task struct {
	swapID string
	name   string
	run    handlerFunc
}

// serialQueue executes submitted handlers strictly one at a time in
// submission order. Each swap kind owns one queue, so handlers of the same
// kind never interleave and the read-modify-write cycles on swap rows stay
// race free without locking.
type serialQueue struct {
	name  string
	tasks chan task
}

// newSerialQueue creates a queue with the given capacity, falling back to
// the default when zero is passed.
func newSerialQueue(name string, depth int) *serialQueue {
	if depth == 0 {
		depth = DefaultMaxPendingTasks
	}

	return &serialQueue{
		name:  name,
		tasks: make(chan task, depth),
	}
}

// submit queues a handler. It blocks while the queue is full and fails only
// when the context ends first.
func (q *serialQueue) submit(ctx context.Context, swapID, name string,
	run handlerFunc) error {

	select {
	case q.tasks <- task{swapID: swapID, name: name, run: run}:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes queued handlers until the context is cancelled. A handler
// that fails or panics is reported and the queue moves on, one broken swap
// must not stall the others.
func (q *serialQueue) run(ctx context.Context,
	notify func(ctx context.Context, swapID, message string)) error {

	for {
		select {
		case t := <-q.tasks:
			q.execute(ctx, t, notify)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// execute runs one handler behind a panic guard.
func (q *serialQueue) execute(ctx context.Context, t task,
	notify func(ctx context.Context, swapID, message string)) {

	defer func() {
		if r := recover(); r != nil {
			log.Criticalf("Task %v of swap %v panicked: %v",
				t.name, t.swapID, r)

			notify(ctx, t.swapID, "internal error, see log")
		}
	}()

	log.Tracef("Queue %v runs %v for swap %v", q.name, t.name, t.swapID)

	err := t.run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):

	default:
		log.Errorf("Task %v of swap %v failed: %v", t.name, t.swapID,
			err)

		notify(ctx, t.swapID, err.Error())
	}
}

// queueName returns the conventional queue name of a swap kind.
func queueName(kind swap.Kind) string {
	switch kind {
	case swap.KindSubmarine:
		return "swap"

	case swap.KindReverse:
		return "reverseSwap"

	default:
		return "chainSwap"
	}
}
