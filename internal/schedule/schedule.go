package schedule

import (
	"context"
	"time"
)

// RunAt calls execute at runAt in its own goroutine, or right away if
// runAt has passed. Nothing runs if ctx is done first.
func RunAt(ctx context.Context, runAt time.Time, execute func(ctx context.Context)) {
	go func() {
		timer := time.NewTimer(time.Until(runAt))
		defer timer.Stop()

		select {
		case <-timer.C:
			execute(ctx)
		case <-ctx.Done():
		}
	}()
}
