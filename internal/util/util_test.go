package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Second, func() error { return errors.New("fail") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	// The first token is available immediately.
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// The bucket is now empty; a cancelled context must not block.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on empty bucket with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestTradingCalendar(t *testing.T) {
	cal := NewTradingCalendar()

	fri := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	sat := fri.AddDate(0, 0, 1)
	if !cal.IsTradingDay(fri) || cal.IsTradingDay(sat) {
		t.Error("weekday/weekend classification is wrong")
	}
	if got := cal.Next(fri); got.Weekday() != time.Monday {
		t.Errorf("Next(Friday) = %v, want Monday", got.Weekday())
	}
	if got := cal.Prev(sat); !got.Equal(fri) {
		t.Errorf("Prev(Saturday) = %v, want %v", got, fri)
	}

	days := cal.Sessions(sat, 6)
	if len(days) != 6 {
		t.Fatalf("Sessions returned %d days, want 6", len(days))
	}
	if !days[5].Equal(fri) {
		t.Errorf("last session = %v, want %v", days[5], fri)
	}
	for i := 1; i < len(days); i++ {
		if !days[i].After(days[i-1]) {
			t.Fatalf("Sessions not ascending at %d", i)
		}
		if !cal.IsTradingDay(days[i]) {
			t.Errorf("Sessions returned weekend day %v", days[i])
		}
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "warn", "text").Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buf.String())
	}
	newLogger(&buf, "debug", "json").Debug("shown", "k", 1)
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("json handler output = %q", buf.String())
	}
}

func TestRetryPermanent(t *testing.T) {
	attempts := 0
	base := errors.New("bad request")

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(base)
	})
	if !errors.Is(err, base) {
		t.Errorf("Retry = %v, want %v", err, base)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times after permanent error, want 1", attempts)
	}
}

func TestBurstRateLimiter(t *testing.T) {
	rl := NewBurstRateLimiter(1, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := rl.Wait(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait past burst = %v, want context.Canceled", err)
	}
}
