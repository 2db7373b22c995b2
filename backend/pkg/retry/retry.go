package retry

import (
	"context"
	"time"
)

// Do runs op once, then retries it up to len(delays) more times, sleeping
// delays[i] before retry i. It returns nil on the first success, the last
// error once the delay sequence is exhausted, or the context error if the
// context is cancelled while waiting.
//
// Both metric tiers use this with different delay sequences (exponential
// 1s/2s/4s for PageRank, linear 5s/10s/15s for betweenness).
func Do(ctx context.Context, delays []time.Duration, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}

	for _, delay := range delays {
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}

		if err = op(ctx); err == nil {
			return nil
		}
	}

	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Exponential returns a delay sequence starting at base and doubling each
// step: base, 2*base, 4*base, ...
func Exponential(base time.Duration, steps int) []time.Duration {
	delays := make([]time.Duration, 0, steps)
	for i := 0; i < steps; i++ {
		delays = append(delays, base<<i)
	}
	return delays
}

// Linear returns a delay sequence increasing by base each step:
// base, 2*base, 3*base, ...
func Linear(base time.Duration, steps int) []time.Duration {
	delays := make([]time.Duration, 0, steps)
	for i := 1; i <= steps; i++ {
		delays = append(delays, time.Duration(i)*base)
	}
	return delays
}
