// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelay(t *testing.T) {
	t.Parallel()

	noJitter := Config{
		InitialDelay:   time.Second,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0,
	}

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first attempt", 1, time.Second},
		{"second attempt doubles", 2, 2 * time.Second},
		{"third attempt doubles again", 3, 4 * time.Second},
		{"fourth attempt hits cap", 4, 5 * time.Second},
		{"fifth attempt stays at cap", 5, 5 * time.Second},
		{"attempt below one treated as first", 0, time.Second},
		{"huge attempt stays at cap", 1000, 5 * time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// JitterFraction 0 would be rewritten by normalize if it were
			// treated as unset; verify zero really means zero.
			got := Delay(tt.attempt, noJitter)
			if got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestDelayJitterBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.5,
		RandomSeed:     42,
	}

	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 100; i++ {
			got := Delay(attempt, cfg)

			if got < 0 {
				t.Fatalf("Delay(%d) = %v, want >= 0", attempt, got)
			}

			// Jitter can push past MaxDelay by at most half the fraction.
			upper := time.Duration(float64(cfg.MaxDelay) * (1 + cfg.JitterFraction/2))
			if got > upper {
				t.Fatalf("Delay(%d) = %v, want <= %v", attempt, got, upper)
			}
		}
	}
}

func TestDelayJitterSpread(t *testing.T) {
	t.Parallel()

	cfg := Config{
		InitialDelay:   time.Second,
		MaxDelay:       time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.5,
		RandomSeed:     7,
	}

	rng := newLockedRand(cfg.RandomSeed)
	seen := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		seen[delayWithRand(3, cfg.normalize(), rng)] = true
	}

	if len(seen) < 2 {
		t.Errorf("got %d distinct jittered delays, want at least 2", len(seen))
	}
}

func TestDelayDefaults(t *testing.T) {
	t.Parallel()

	// A zero config must still produce sane delays rather than zeros.
	got := Delay(1, Config{JitterFraction: -1})
	if got <= 0 {
		t.Errorf("Delay with zero config = %v, want > 0", got)
	}
}

func TestTracker(t *testing.T) {
	t.Parallel()

	t.Run("accumulates attempts and total delay", func(t *testing.T) {
		t.Parallel()

		tr := NewTracker(Config{
			InitialDelay:   100 * time.Millisecond,
			MaxDelay:       time.Second,
			Multiplier:     2.0,
			JitterFraction: 0,
			MaxRetries:     3,
		})

		var total time.Duration
		for i := 1; i <= 3; i++ {
			d := tr.NextDelay()
			total += d
			if tr.Attempt() != i {
				t.Fatalf("Attempt() = %d, want %d", tr.Attempt(), i)
			}
		}

		if tr.TotalDelay() != total {
			t.Errorf("TotalDelay() = %v, want %v", tr.TotalDelay(), total)
		}
		if want := 700 * time.Millisecond; total != want {
			t.Errorf("accumulated delay = %v, want %v", total, want)
		}
	})

	t.Run("max retries budget", func(t *testing.T) {
		t.Parallel()

		tr := NewTracker(Config{InitialDelay: time.Millisecond, MaxRetries: 2})

		if tr.MaxRetriesExceeded() {
			t.Error("MaxRetriesExceeded() = true before any attempt")
		}
		tr.NextDelay()
		if tr.MaxRetriesExceeded() {
			t.Error("MaxRetriesExceeded() = true after 1 of 2 attempts")
		}
		tr.NextDelay()
		if !tr.MaxRetriesExceeded() {
			t.Error("MaxRetriesExceeded() = false after 2 of 2 attempts")
		}
	})

	t.Run("unbounded when max retries unset", func(t *testing.T) {
		t.Parallel()

		tr := NewTracker(Config{InitialDelay: time.Millisecond})
		for i := 0; i < 100; i++ {
			tr.NextDelay()
		}
		if tr.MaxRetriesExceeded() {
			t.Error("MaxRetriesExceeded() = true for unbounded tracker")
		}
	})

	t.Run("reset clears state", func(t *testing.T) {
		t.Parallel()

		tr := NewTracker(Config{InitialDelay: time.Millisecond, MaxRetries: 1})
		tr.NextDelay()
		tr.Reset()

		if tr.Attempt() != 0 {
			t.Errorf("Attempt() after Reset = %d, want 0", tr.Attempt())
		}
		if tr.TotalDelay() != 0 {
			t.Errorf("TotalDelay() after Reset = %v, want 0", tr.TotalDelay())
		}
		if tr.MaxRetriesExceeded() {
			t.Error("MaxRetriesExceeded() after Reset = true, want false")
		}
	})
}

func TestRetry(t *testing.T) {
	t.Parallel()

	fastCfg := Config{
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
		MaxRetries:     3,
	}

	t.Run("succeeds immediately", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := Retry(context.Background(), fastCfg, func(context.Context) error {
			calls++
			return nil
		}, nil)
		if err != nil {
			t.Fatalf("Retry() = %v, want nil", err)
		}
		if calls != 1 {
			t.Errorf("fn called %d times, want 1", calls)
		}
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := Retry(context.Background(), fastCfg, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, nil)
		if err != nil {
			t.Fatalf("Retry() = %v, want nil", err)
		}
		if calls != 3 {
			t.Errorf("fn called %d times, want 3", calls)
		}
	})

	t.Run("exhausts retry budget", func(t *testing.T) {
		t.Parallel()

		underlying := errors.New("broker unavailable")
		calls := 0
		var retries []int
		err := Retry(context.Background(), fastCfg, func(context.Context) error {
			calls++
			return underlying
		}, func(attempt int, _ time.Duration, _ error) {
			retries = append(retries, attempt)
		})

		if !errors.Is(err, ErrMaxRetriesExceeded) {
			t.Fatalf("Retry() = %v, want ErrMaxRetriesExceeded", err)
		}
		if !errors.Is(err, underlying) {
			t.Errorf("Retry() = %v, want wrapped underlying error", err)
		}
		// MaxRetries=3 means 3 retries after the initial attempt.
		if calls != 4 {
			t.Errorf("fn called %d times, want 4", calls)
		}
		if len(retries) != 3 {
			t.Errorf("onRetry called %d times, want 3", len(retries))
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		slowCfg := Config{
			InitialDelay:   time.Hour,
			MaxDelay:       time.Hour,
			JitterFraction: 0,
			MaxRetries:     5,
		}

		done := make(chan error, 1)
		go func() {
			done <- Retry(ctx, slowCfg, func(context.Context) error {
				return errors.New("always fails")
			}, nil)
		}()

		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Retry() = %v, want context.Canceled", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Retry did not return after context cancellation")
		}
	})
}
