package llm

import (
	"context"
	"net/http"
	"time"
)

// retryWithBackoff runs fn up to maxAttempts times with exponential backoff.
// fn reports whether its error is retryable; non-retryable errors stop the
// loop immediately. Context cancellation always wins over a pending backoff.
func retryWithBackoff(ctx context.Context, maxAttempts int, fn func() (retryable bool, err error)) error {
	backoff := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == maxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// isRetryableStatus reports whether an HTTP status is worth retrying.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
