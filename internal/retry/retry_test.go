package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func(int) error {
		calls++
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 1 || calls != 1 {
		t.Errorf("expected 1 attempt, got %d (calls %d)", result.Attempts, calls)
	}
}

func TestDo_RetryThenSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(5), func(int) error {
		calls++
		if calls < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestDo_MaxAttempts(t *testing.T) {
	var seen []int
	result := Do(context.Background(), fastConfig(5), func(attempt int) error {
		seen = append(seen, attempt)
		return errors.New("down")
	})

	if result.Err == nil {
		t.Fatal("expected error")
	}
	if result.Attempts != 5 {
		t.Errorf("expected 5 attempts, got %d", result.Attempts)
	}
	if len(seen) != 5 || seen[4] != 5 {
		t.Errorf("unexpected attempt numbers: %v", seen)
	}
}

func TestDo_Permanent(t *testing.T) {
	sentinel := errors.New("rejected")
	calls := 0
	result := Do(context.Background(), fastConfig(5), func(int) error {
		calls++
		return Permanent(sentinel)
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(result.Err, sentinel) {
		t.Errorf("expected sentinel error, got %v", result.Err)
	}
	if !IsPermanent(result.Err) {
		t.Error("expected permanent error")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := fastConfig(5)
	config.DelayFirst = true
	calls := 0
	result := Do(ctx, config, func(int) error {
		calls++
		return nil
	})

	if calls != 0 {
		t.Errorf("expected no calls, got %d", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, time.Second, 5*time.Second, 2); got != tt.expected {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestReconnect(t *testing.T) {
	c := Reconnect()
	if c.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", c.MaxAttempts)
	}
	if c.InitialDelay != time.Second {
		t.Errorf("InitialDelay = %v, want 1s", c.InitialDelay)
	}
	if !c.DelayFirst {
		t.Error("reconnect policy must wait before the first attempt")
	}
}
