package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		Enabled:      true,
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Base:         2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustion(t *testing.T) {
	sentinel := errors.New("boom")
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return sentinel
	}, nil)
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", exhausted.Attempts)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("exhausted error should wrap the last error")
	}
	if !IsExhausted(err) {
		t.Errorf("IsExhausted = false, want true")
	}
}

func TestDoDisabledPassthrough(t *testing.T) {
	sentinel := errors.New("boom")
	calls := 0
	err := Do(context.Background(), Policy{Enabled: false, MaxRetries: 5}, func(ctx context.Context) error {
		calls++
		return sentinel
	}, nil)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, sentinel) || IsExhausted(err) {
		t.Fatalf("disabled policy must pass the error through, got %v", err)
	}
}

func TestDoCancellationDuringOperation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastPolicy(3), func(ctx context.Context) error {
		calls++
		cancel()
		return context.Canceled
	}, nil)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if IsExhausted(err) {
		t.Fatalf("cancellation must not surface as exhaustion")
	}
}

func TestDoCancellationDuringWait(t *testing.T) {
	policy := Policy{
		Enabled:      true,
		MaxRetries:   3,
		InitialDelay: time.Minute,
		MaxDelay:     time.Minute,
		Base:         2.0,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, policy, func(ctx context.Context) error {
			return errors.New("transient")
		}, nil)
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation during backoff wait")
	}
}

func TestOnRetryCallback(t *testing.T) {
	type retryObservation struct {
		attempt int
		delay   time.Duration
	}
	var seen []retryObservation
	_ = Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		return errors.New("transient")
	}, func(attempt int, err error, delay time.Duration) {
		seen = append(seen, retryObservation{attempt, delay})
	})
	if len(seen) != 2 {
		t.Fatalf("expected 2 retry callbacks, got %d", len(seen))
	}
	if seen[0].attempt != 1 || seen[1].attempt != 2 {
		t.Errorf("callback attempts = %v, want 1 then 2", seen)
	}
}

func TestDelayGrowthAndCap(t *testing.T) {
	policy := Policy{
		Enabled:      true,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Base:         2.0,
	}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := policy.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	value, err := DoWithValue(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "ok" {
		t.Fatalf("value = %q, want %q", value, "ok")
	}
}
