package db

import (
	"context"
	"strings"
	"time"

	"github.com/pierre-mcp/pierre/pkg/logx"
)

// retryableSubstrings and nonRetryableSubstrings classify errors purely by
// message content (see design notes for why: lib/pq and modernc.org/sqlite
// disagree on whether a typed error is even reachable through database/sql's
// driver.Err wrapping, so substring matching is the one classification that
// works identically across both backends, at the acknowledged cost of being
// a weaker signal than a typed SQLSTATE check would be).
var retryableSubstrings = []string{
	"deadlock",
	"database is locked",
	"busy",
	"timeout",
	"serialization failure",
}

var nonRetryableSubstrings = []string{
	"unique constraint",
	"foreign key constraint",
	"check constraint",
	"not-null constraint",
	"not null constraint",
	"permission denied",
	"connection refused",
}

// IsRetryable classifies an error as transient (worth retrying) or not.
// Default is non-retryable: an unrecognized error is assumed permanent
// rather than hammered with retries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range nonRetryableSubstrings {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RetryTransaction runs op up to maxAttempts times, backing off
// 10*2^attempt milliseconds between retryable failures. Non-retryable
// errors return immediately without consuming remaining attempts.
func RetryTransaction[T any](ctx context.Context, maxAttempts int, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
		backoff := time.Duration(10*(1<<uint(attempt))) * time.Millisecond
		logx.WithFields(logx.Fields{
			"attempt": attempt,
			"backoff": backoff.String(),
			"error":   err.Error(),
		}).Warn("retrying transaction after transient error")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return zero, ErrRetryExhausted(maxAttempts, lastErr)
}
