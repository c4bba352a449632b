package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	v, err := Retry(context.Background(), DefaultPolicy(), func(_ context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || calls != 1 {
		t.Errorf("got %q after %d calls", v, calls)
	}
}

func TestRetry_SuccessAfterTransientFailures(t *testing.T) {
	var calls int
	v, err := Retry(context.Background(), fastPolicy(), func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("backend error"), 503)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 || calls != 3 {
		t.Errorf("got %d after %d calls", v, calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	var calls int
	_, err := Retry(context.Background(), fastPolicy(), func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("always"), 500)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	var calls int
	_, err := Retry(context.Background(), fastPolicy(), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("403 forbidden")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, Backoff: time.Hour, MaxBackoff: time.Hour}
	p.OnRetry = func(int, error) { cancel() }

	var calls int
	_, err := Retry(ctx, p, func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("busy"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_OnRetryCalled(t *testing.T) {
	var attempts []int
	p := fastPolicy()
	p.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_, _ = Retry(context.Background(), p, func(_ context.Context) (int, error) {
		return 0, NewTransientError(errors.New("busy"), 503)
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected retry attempts: %v", attempts)
	}
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := Policy{Backoff: time.Second, MaxBackoff: 3 * time.Second}.withDefaults()
	p.Jitter = 0
	if d := p.delay(0); d != time.Second {
		t.Errorf("delay(0) = %v", d)
	}
	if d := p.delay(1); d != 2*time.Second {
		t.Errorf("delay(1) = %v", d)
	}
	if d := p.delay(5); d != 3*time.Second {
		t.Errorf("delay(5) = %v", d)
	}
}
