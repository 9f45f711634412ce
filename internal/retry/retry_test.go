package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func noWait(context.Context, time.Duration) error { return nil }

func TestDelayBackoff(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiple: 2}

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for attempt, want := range expected {
		if got := cfg.Delay(attempt); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestDelaySaturatesWithoutMaxDelay(t *testing.T) {
	cfg := Config{BaseDelay: 200 * time.Millisecond, BackoffMultiple: 2}

	tests := []struct {
		attempt int
		expect  time.Duration
	}{
		{attempt: 0, expect: 200 * time.Millisecond},
		{attempt: 3, expect: 1600 * time.Millisecond},
		{attempt: 30, expect: DefaultMaxDelay},
		{attempt: 40, expect: DefaultMaxDelay},
		{attempt: 5000, expect: DefaultMaxDelay},
	}

	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.expect {
			t.Fatalf("attempt %d: expected %v, got %v", tt.attempt, tt.expect, got)
		}
	}

	capped := Config{BaseDelay: time.Second, MaxDelay: time.Hour, BackoffMultiple: 10}
	for _, attempt := range []int{20, 100, 1000} {
		if got := capped.Delay(attempt); got != time.Hour {
			t.Fatalf("attempt %d: expected the cap, got %v", attempt, got)
		}
	}

	if got := (Config{BaseDelay: -time.Second}).Delay(1); got != 0 {
		t.Fatalf("expected negative base delay to clamp to zero, got %v", got)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		Config:    Config{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, BackoffMultiple: 2},
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
		Wait: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}

	calls := 0
	got, attempts, err := Do(context.Background(), p, func(context.Context, int) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || attempts != 3 {
		t.Fatalf("unexpected result %q after %d attempts", got, attempts)
	}
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Fatalf("unexpected delays: %v", delays)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	p := Policy{
		Config:    Config{MaxRetries: 5},
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
		Wait:      noWait,
	}

	calls := 0
	_, attempts, err := Do(context.Background(), p, func(context.Context, int) (int, error) {
		calls++
		return 0, permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 || attempts != 1 {
		t.Fatalf("expected single call, got %d calls and %d attempts", calls, attempts)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	retried := 0
	p := Policy{
		Config:    Config{MaxRetries: 2},
		Retryable: func(error) bool { return true },
		Wait:      noWait,
		OnRetry:   func(int, time.Duration, error) { retried++ },
	}

	calls := 0
	_, attempts, err := Do(context.Background(), p, func(context.Context, int) (int, error) {
		calls++
		return 0, errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if calls != 3 || attempts != 3 || retried != 2 {
		t.Fatalf("unexpected counters: calls=%d attempts=%d retried=%d", calls, attempts, retried)
	}
}

func TestDoHonorsCancellationWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		Config:    Config{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour},
		Retryable: func(error) bool { return true },
	}

	calls := 0
	_, _, err := Do(ctx, p, func(context.Context, int) (int, error) {
		calls++
		cancel()
		return 0, errTransient
	})
	if !errors.Is(err, context.Canceled) && !errors.Is(err, errTransient) {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", calls)
	}
}
