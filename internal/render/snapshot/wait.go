package snapshot

import (
	"context"
	"time"
)

const pollInterval = 100 * time.Millisecond

// condition reports whether a page readiness condition holds. An error
// that is not caused by ctx ends the wait.
type condition func(ctx context.Context) (bool, error)

// waitBestEffort polls cond until it holds or timeout elapses. It never
// fails the render; the result only says whether the condition was met.
func waitBestEffort(ctx context.Context, timeout time.Duration, cond condition) bool {
	if timeout <= 0 {
		return false
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := cond(waitCtx)
		if ok {
			return true
		}
		if err != nil && waitCtx.Err() == nil {
			return false
		}
		select {
		case <-waitCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// sleepCtx pauses for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
