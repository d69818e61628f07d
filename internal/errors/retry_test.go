package errors

import (
	"context"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return E(KindBusPublish, "broker unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnNonRetryableKind(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), nil, func(ctx context.Context) error {
		calls++
		return E(KindValidation, "bad request")
	})
	if KindOf(err) != KindValidation {
		t.Fatalf("err = %v, want validation kind", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (request errors never retry)", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(2), nil, func(ctx context.Context) error {
		calls++
		return E(KindAgentRPC, "runtime down")
	})
	if KindOf(err) != KindAgentRPC {
		t.Fatalf("err = %v, want the last attempt's error", err)
	}
	if calls != 3 { // initial attempt + 2 retries
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetry(3), nil, func(ctx context.Context) error {
		t.Fatal("fn ran on a cancelled context")
		return nil
	})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
