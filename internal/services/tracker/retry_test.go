package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"tciasync-desktop/internal/shared"

	"github.com/stretchr/testify/assert"
)

func noWait(int) time.Duration { return 0 }

func transient() error {
	return &shared.TransportError{Method: "GET", Endpoint: "jobs/1", StatusCode: 503}
}

// TestRetryWithBackoff tests the retry logic with exponential backoff
func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	t.Run("Should succeed on first attempt", func(t *testing.T) {
		attemptCount := 0
		operation := func() error {
			attemptCount++
			return nil
		}

		err := retryWithBackoff(ctx, operation, 3, noWait, nil)

		assert.NoError(t, err)
		assert.Equal(t, 1, attemptCount, "Should only attempt once on success")
	})

	t.Run("Should retry up to maxAttempts times", func(t *testing.T) {
		attemptCount := 0
		operation := func() error {
			attemptCount++
			return transient()
		}

		err := retryWithBackoff(ctx, operation, 3, noWait, nil)

		assert.Error(t, err)
		assert.Equal(t, 3, attemptCount, "Should attempt exactly 3 times")
		assert.Contains(t, err.Error(), "failed after 3 attempts")

		var transportErr *shared.TransportError
		assert.ErrorAs(t, err, &transportErr)
	})

	t.Run("Should succeed on second attempt", func(t *testing.T) {
		attemptCount := 0
		operation := func() error {
			attemptCount++
			if attemptCount < 2 {
				return transient()
			}
			return nil
		}

		err := retryWithBackoff(ctx, operation, 3, noWait, nil)

		assert.NoError(t, err)
		assert.Equal(t, 2, attemptCount, "Should succeed on second attempt")
	})

	t.Run("Should not retry an unknown job", func(t *testing.T) {
		attemptCount := 0
		operation := func() error {
			attemptCount++
			return &shared.JobNotFoundError{JobID: "missing"}
		}

		err := retryWithBackoff(ctx, operation, 3, noWait, nil)

		var notFound *shared.JobNotFoundError
		assert.ErrorAs(t, err, &notFound)
		assert.Equal(t, 1, attemptCount)
	})

	t.Run("Should not retry client errors", func(t *testing.T) {
		attemptCount := 0
		operation := func() error {
			attemptCount++
			return &shared.TransportError{StatusCode: 401}
		}

		err := retryWithBackoff(ctx, operation, 3, noWait, nil)

		assert.Error(t, err)
		assert.Equal(t, 1, attemptCount)
	})

	t.Run("Should call logf with progress messages", func(t *testing.T) {
		loggedMessages := []string{}
		attemptCount := 0

		operation := func() error {
			attemptCount++
			if attemptCount < 3 {
				return transient()
			}
			return nil
		}

		err := retryWithBackoff(ctx, operation, 3, noWait, func(msg string) {
			loggedMessages = append(loggedMessages, msg)
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, attemptCount)
		assert.Len(t, loggedMessages, 3, "Should log: 2 retry messages + 1 success message")
		assert.Contains(t, loggedMessages[0], "Attempt 1/3 failed")
		assert.Contains(t, loggedMessages[1], "Attempt 2/3 failed")
		assert.Contains(t, loggedMessages[2], "Operation succeeded on retry 3/3")
	})

	t.Run("Should stop waiting when the context is cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		attemptCount := 0
		err := retryWithBackoff(cancelled, func() error {
			attemptCount++
			return transient()
		}, 3, func(int) time.Duration { return time.Hour }, nil)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attemptCount)
	})

	t.Run("Should treat maxAttempts below one as a single attempt", func(t *testing.T) {
		attemptCount := 0
		err := retryWithBackoff(ctx, func() error {
			attemptCount++
			return transient()
		}, 0, noWait, nil)

		assert.Error(t, err)
		assert.Equal(t, 1, attemptCount)
	})
}

func TestBackoff(t *testing.T) {
	t.Run("Should grow quadratically", func(t *testing.T) {
		assert.Equal(t, 500*time.Millisecond, backoff(1))
		assert.Equal(t, 2*time.Second, backoff(2))
		assert.Equal(t, 4500*time.Millisecond, backoff(3))
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network failure", &shared.TransportError{Err: errors.New("connection refused")}, true},
		{"server error", &shared.TransportError{StatusCode: 500}, true},
		{"rate limited", &shared.TransportError{StatusCode: 429}, true},
		{"unauthorized", &shared.TransportError{StatusCode: 401}, false},
		{"cancelled request", &shared.TransportError{Err: context.Canceled}, false},
		{"plain error", errors.New("boom"), false},
		{"unknown job", &shared.JobNotFoundError{JobID: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}
