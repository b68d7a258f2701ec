package lightning

import (
	"context"
	"errors"
	"time"
)

// ErrRaceTimeout is returned by RaceCall when the call does not return
// within the deadline.
var ErrRaceTimeout = errors.New("call timed out")

// DefaultCallTimeout bounds node calls dispatched through RaceCall.
const DefaultCallTimeout = time.Minute

// RaceCall runs call with a deadline so that an unresponsive node cannot
// stall its caller. The call keeps running in the background after a
// timeout, only the wait is abandoned.
func RaceCall[T any](ctx context.Context, timeout time.Duration,
	call func(ctx context.Context) (T, error)) (T, error) {

	type result struct {
		value T
		err   error
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resChan := make(chan result, 1)
	go func() {
		value, err := call(callCtx)
		resChan <- result{value: value, err: err}
	}()

	select {
	case res := <-resChan:
		return res.value, res.err

	case <-callCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		return zero, ErrRaceTimeout
	}
}

// RaceCallErr is RaceCall for calls without a result value.
func RaceCallErr(ctx context.Context, timeout time.Duration,
	call func(ctx context.Context) error) error {

	_, err := RaceCall(
		ctx, timeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, call(ctx)
		},
	)

	return err
}
