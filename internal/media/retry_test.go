package media

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAttemptReturnsOnFirstSuccess(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond}

	calls := 0
	err := policy.Attempt(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestAttemptRecoversWithinBound(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond}

	errFlaky := errors.New("flaky")
	calls := 0
	err := policy.Attempt(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestAttemptStopsAtBound(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond}

	errDown := errors.New("down")
	calls := 0
	err := policy.Attempt(context.Background(), func() error {
		calls++
		return errDown
	})
	if !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want wrapped %v", err, errDown)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestAttemptHonorsContextCancellation(t *testing.T) {
	policy := RetryPolicy{Attempts: 5, Delay: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errDown := errors.New("down")
	calls := 0
	start := time.Now()
	err := policy.Attempt(ctx, func() error {
		calls++
		cancel()
		return errDown
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("Attempt kept waiting after cancellation")
	}
}
