package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times, doubling the wait between attempts
// starting from baseDelay. Market-data requests are the main caller;
// transient API errors usually clear within a retry or two. It returns nil
// on the first success, or the last error once the attempts are exhausted.
// Context cancellation is honoured while waiting between attempts.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if attempt == maxAttempts-1 {
			break // no sleep after the final attempt
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return err
}
