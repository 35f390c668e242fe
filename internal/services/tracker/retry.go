package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tciasync-desktop/internal/shared"
)

// backoff returns the wait after a failed attempt: 500ms, 2s, 4.5s...
func backoff(attempt int) time.Duration {
	return time.Duration(500*attempt*attempt) * time.Millisecond
}

// isRetryable retries transport failures only; unknown jobs and cancellations are final.
func isRetryable(err error) bool {
	var transportErr *shared.TransportError
	if !errors.As(err, &transportErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return transportErr.StatusCode == 0 || transportErr.StatusCode >= 500 || transportErr.StatusCode == 429
}

// retryWithBackoff runs operation up to maxAttempts times while it fails with a
// retryable error. logf receives one message per retry and on late success.
func retryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, wait func(int) time.Duration, logf func(msg string)) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if wait == nil {
		wait = backoff
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 1 && logf != nil {
				logf(fmt.Sprintf("Operation succeeded on retry %d/%d", attempt, maxAttempts))
			}
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}

		// Don't sleep after last attempt
		if attempt < maxAttempts {
			d := wait(attempt)
			if logf != nil {
				logf(fmt.Sprintf("Attempt %d/%d failed: %v (retrying in %v)", attempt, maxAttempts, err, d))
			}
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
