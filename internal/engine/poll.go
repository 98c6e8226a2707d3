package engine

import (
	"context"
	"time"
)

// pollUntil evaluates done at the given interval until it returns true, an
// error occurs, or the deadline elapses. It is the single timing primitive
// behind every wait in the bracket lifecycle (id acquisition, parent fill,
// child race); callers differ only in predicate and bounds.
//
// The predicate is evaluated once immediately. The return value is
// (true, nil) when the predicate was satisfied and (false, nil) when the
// deadline elapsed first. Context cancellation aborts the wait and leaves
// any venue orders exactly as they are.
func pollUntil(ctx context.Context, interval, timeout time.Duration, done func() (bool, error)) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := done()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}
