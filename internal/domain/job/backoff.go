// Package job holds the queue-side domain logic: retry backoff, lease
// normalization, and availability notification fan-out.
package job

import (
	"time"
)

// Backoff returns the retry delay for the given attempt using exponential
// growth from base, capped at maxDelay. Attempt 0 is the first retry and
// waits base. The function is pure so retry timing can be tested without a
// queue.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	if attempt < 0 {
		attempt = 0
	}
	// Past 62 shifts the doubling overflows int64; every such attempt is at
	// the cap anyway.
	if attempt > 62 {
		return maxDelay
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}
