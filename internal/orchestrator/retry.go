package orchestrator

import (
	"context"
	"math/rand"
	"time"
)

// SleepFunc lets tests replace the retry delay with a no-op.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

const (
	backoffBase = time.Second
	backoffCap  = 16 * time.Second
)

// backoffDelay grows 1s, 2s, 4s... capped at 16s. attempt is 1-based:
// the delay before the first retry uses attempt 1.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// jitter spreads a delay across [0.5d, 1.5d) so synchronized clients
// do not retry in lockstep.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}
