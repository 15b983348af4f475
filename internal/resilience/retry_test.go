package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errRetryMe = errors.New("retry me")

func retryOnSentinel(err error) bool { return errors.Is(err, errRetryMe) }

func TestDoVal_StopsOnFirstSuccess(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), RetryConfig{MaxAttempts: 3, ShouldRetry: retryOnSentinel}, func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errRetryMe
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Errorf("expected ok, got %q", val)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDoVal_ExhaustsExactlyMaxAttempts(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), RetryConfig{MaxAttempts: 3, ShouldRetry: retryOnSentinel}, func(_ context.Context) (int, error) {
		calls++
		return 42, errRetryMe
	})
	if !errors.Is(err, errRetryMe) {
		t.Fatalf("expected last error, got %v", err)
	}
	if val != 0 {
		t.Errorf("expected zero value on failure, got %d", val)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonRetryableErrorStopsImmediately(t *testing.T) {
	var calls int
	fatal := errors.New("no candidates")
	err := Do(context.Background(), RetryConfig{MaxAttempts: 3, ShouldRetry: retryOnSentinel}, func(_ context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_DefaultShouldRetryIsTransient(t *testing.T) {
	var calls int
	err := Do(context.Background(), RetryConfig{MaxAttempts: 2}, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("overloaded"), 529)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_ZeroConfigRunsOnce(t *testing.T) {
	var calls int
	_ = Do(context.Background(), RetryConfig{}, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("fail"), 500)
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelledStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 50 * time.Millisecond,
		Multiplier:     2.0,
		ShouldRetry:    retryOnSentinel,
	}

	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errRetryMe
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var retried []int
	cfg := RetryConfig{
		MaxAttempts: 3,
		ShouldRetry: retryOnSentinel,
		OnRetry: func(attempt int, _ error) {
			retried = append(retried, attempt)
		},
	}

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return errRetryMe
	})

	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("expected OnRetry for attempts [1 2], got %v", retried)
	}
}

func TestComputeBackoff_ZeroInitialMeansNoWait(t *testing.T) {
	cfg := applyDefaults(RetryConfig{MaxAttempts: 3})
	if d := computeBackoff(2, cfg); d != 0 {
		t.Errorf("expected no delay, got %v", d)
	}
}

func TestComputeBackoff_ExponentialGrowth(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	})

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, want := range expected {
		if got := computeBackoff(i, cfg); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestComputeBackoff_CapsAtMax(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     10.0,
	})
	if d := computeBackoff(5, cfg); d != 5*time.Second {
		t.Errorf("expected delay capped at 5s, got %v", d)
	}
}

func TestComputeBackoff_WithJitter(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.5,
	})

	seen := make(map[time.Duration]bool)
	for range 100 {
		d := computeBackoff(0, cfg)
		seen[d] = true
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Errorf("delay %v outside [500ms, 1500ms]", d)
		}
	}
	if len(seen) < 2 {
		t.Error("expected jitter to vary delays")
	}
}

func TestRetryLogger(t *testing.T) {
	t.Parallel()
	logger := RetryLogger("extractor", "parse_batch")
	logger(1, errors.New("test error"))
}
