package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/papeline/papeline/retry"
)

func TestBackoffDurationDoubles(t *testing.T) {
	if retry.BackoffDuration(0) != time.Second {
		t.Fatalf("backoff(0) = %v, want 1s", retry.BackoffDuration(0))
	}
	if retry.BackoffDuration(2) != 4*time.Second {
		t.Fatalf("backoff(2) = %v, want 4s", retry.BackoffDuration(2))
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), "x", 3, nil,
		func(error) bool { return true },
		func(context.Context) (int, error) { calls++; return 42, nil })
	if err != nil || v != 42 || calls != 1 {
		t.Fatalf("got v=%d err=%v calls=%d", v, err, calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	errBoom := errors.New("boom")
	_, err := retry.Do(context.Background(), "x", 5, nil,
		func(error) bool { return false },
		func(context.Context) (int, error) { calls++; return 0, errBoom })
	if !errors.Is(err, errBoom) || calls != 1 {
		t.Fatalf("expected single attempt on non-retryable, got calls=%d err=%v", calls, err)
	}
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	errBoom := errors.New("boom")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := retry.Do(ctx, "x", 3, nil,
		func(error) bool { return true },
		func(context.Context) (int, error) { calls++; return 0, errBoom })
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected last error returned, got %v", err)
	}
}
