// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package breaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errDownstream = errors.New("downstream failed")

func failingCall(context.Context) error { return errDownstream }

func okCall(context.Context) error { return nil }

// testConfig returns a fast breaker config; names must be unique per test
// because breaker metrics are labeled by name in a shared registry.
func testConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		ResetTimeout:     50 * time.Millisecond,
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := New(testConfig("opens-after-failures"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, failingCall); !errors.Is(err, errDownstream) {
			t.Fatalf("call %d: got %v, want %v", i+1, err, errDownstream)
		}
	}

	if got := b.State(); got != "open" {
		t.Fatalf("State() = %q, want %q", got, "open")
	}

	// The next call must be rejected without reaching the downstream.
	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("got %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("wrapped call was invoked while circuit open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := New(testConfig("success-resets"))
	ctx := context.Background()

	// Failure, success, failure: never two consecutive, stays closed.
	calls := []func(context.Context) error{failingCall, okCall, failingCall}
	for _, fn := range calls {
		_ = b.Execute(ctx, fn)
	}

	if got := b.State(); got != "closed" {
		t.Errorf("State() = %q, want %q", got, "closed")
	}
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	t.Parallel()

	b := New(testConfig("half-open-transition"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	if got := b.State(); got != "open" {
		t.Fatalf("State() = %q, want %q", got, "open")
	}

	// State is derived from elapsed time, not from traffic: no call is
	// needed for the open -> half-open transition to be visible.
	time.Sleep(70 * time.Millisecond)
	if got := b.State(); got != "half-open" {
		t.Errorf("State() = %q, want %q", got, "half-open")
	}
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	t.Parallel()

	cfg := testConfig("half-open-closes")
	cfg.SuccessThreshold = 2
	b := New(cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	time.Sleep(70 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, okCall); err != nil {
			t.Fatalf("half-open call %d: got %v, want nil", i+1, err)
		}
	}

	if got := b.State(); got != "closed" {
		t.Errorf("State() = %q, want %q", got, "closed")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b := New(testConfig("half-open-reopens"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	time.Sleep(70 * time.Millisecond)

	if err := b.Execute(ctx, failingCall); !errors.Is(err, errDownstream) {
		t.Fatalf("half-open probe: got %v, want %v", err, errDownstream)
	}
	if got := b.State(); got != "open" {
		t.Errorf("State() = %q, want %q", got, "open")
	}
}

func TestBreakerCallTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig("call-timeout")
	cfg.CallTimeout = 20 * time.Millisecond
	b := New(cfg)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.Is(err, ErrCallTimeout) {
		t.Errorf("got %v, want ErrCallTimeout", err)
	}

	// Timeouts count as failures toward opening the circuit.
	stats := b.Stats()
	if stats.TimedOut != 1 {
		t.Errorf("Stats().TimedOut = %d, want 1", stats.TimedOut)
	}
}

func TestBreakerStats(t *testing.T) {
	t.Parallel()

	b := New(testConfig("stats"))
	ctx := context.Background()

	_ = b.Execute(ctx, okCall)
	_ = b.Execute(ctx, failingCall)
	_ = b.Execute(ctx, failingCall) // opens the circuit
	_ = b.Execute(ctx, okCall)      // rejected

	got := b.Stats()
	want := Stats{Total: 4, Succeeded: 1, Failed: 2, Rejected: 1}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestBreakerConcurrentExecute(t *testing.T) {
	t.Parallel()

	cfg := testConfig("concurrent")
	cfg.FailureThreshold = 1000 // keep closed throughout
	b := New(cfg)

	const workers = 20
	done := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				if n%2 == 0 {
					_ = b.Execute(context.Background(), okCall)
				} else {
					_ = b.Execute(context.Background(), failingCall)
				}
			}
		}(i)
	}
	for i := 0; i < workers; i++ {
		<-done
	}

	stats := b.Stats()
	if total := workers * 50; stats.Total != uint64(total) {
		t.Errorf("Stats().Total = %d, want %d", stats.Total, total)
	}
	if sum := stats.Succeeded + stats.Failed + stats.Rejected + stats.TimedOut; sum != stats.Total {
		t.Errorf("outcome sum = %d, want %d", sum, stats.Total)
	}
}

func TestBreakerPropagatesCallError(t *testing.T) {
	t.Parallel()

	b := New(testConfig("propagates-error"))
	wrapped := fmt.Errorf("checking sku %q: %w", "SKU-1", errDownstream)

	err := b.Execute(context.Background(), func(context.Context) error {
		return wrapped
	})
	if !errors.Is(err, errDownstream) {
		t.Errorf("got %v, want error chain containing %v", err, errDownstream)
	}
}
