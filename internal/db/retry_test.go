package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pierre-mcp/pierre/internal/db"
)

func TestIsRetryableClassifiesTransientErrors(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("database is locked"), true},
		{errors.New("deadlock detected"), true},
		{errors.New("connection busy, try again"), true},
		{errors.New("statement timeout"), true},
		{errors.New("could not serialize access due to serialization failure"), true},
		{errors.New("duplicate key value violates unique constraint"), false},
		{errors.New("insert or update violates foreign key constraint"), false},
		{errors.New("permission denied for table users"), false},
		{errors.New("connection refused"), false},
		{errors.New("some completely unrecognized driver error"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := db.IsRetryable(c.err); got != c.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRetryTransactionSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := db.RetryTransaction(context.Background(), 5, func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("database is locked")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryTransaction: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected result %q, got %q", "ok", result)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestRetryTransactionReturnsImmediatelyOnNonRetryableError(t *testing.T) {
	attempts := 0
	_, err := db.RetryTransaction(context.Background(), 5, func(ctx context.Context) (string, error) {
		attempts++
		return "", errors.New("duplicate key value violates unique constraint")
	})
	if err == nil {
		t.Fatal("expected a non-retryable error to propagate")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestRetryTransactionExhaustsAttempts(t *testing.T) {
	attempts := 0
	_, err := db.RetryTransaction(context.Background(), 3, func(ctx context.Context) (string, error) {
		attempts++
		return "", errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected exhausting all attempts to return an error")
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestRetryTransactionRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	cancel()
	_, err := db.RetryTransaction(ctx, 5, func(ctx context.Context) (string, error) {
		attempts++
		return "", errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected a cancelled context to abort the retry loop")
	}
	if attempts != 1 {
		t.Fatalf("expected the op to run once before the cancellation is observed, got %d", attempts)
	}
}
