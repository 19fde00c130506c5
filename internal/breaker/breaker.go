// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

// Package breaker wraps sony/gobreaker with a per-call timeout, uniform error
// translation, and cumulative statistics for health reporting. Each protected
// downstream dependency owns an independent Breaker instance; state is
// process-local and resets on restart.
package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/orderbus/internal/logging"
	"github.com/tomtom215/orderbus/internal/metrics"
)

// ErrCircuitOpen is returned without invoking the wrapped call while the
// circuit is open (or while half-open probes are saturated).
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrCallTimeout is returned when the wrapped call does not settle within the
// configured call timeout. It is distinct from the call's own errors; a late
// result is discarded.
var ErrCallTimeout = errors.New("circuit breaker call timed out")

// Config holds breaker parameters for one dependency.
type Config struct {
	// Name identifies the protected dependency in logs and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit while closed.
	FailureThreshold uint32

	// SuccessThreshold is the number of consecutive half-open successes that
	// closes the circuit again.
	SuccessThreshold uint32

	// ResetTimeout is how long the circuit stays open before half-open
	// probes are allowed.
	ResetTimeout time.Duration

	// CallTimeout bounds each wrapped call. Zero disables the timeout.
	CallTimeout time.Duration

	// IsSuccessful, when set, decides which errors count against the
	// breaker. Business refusals from a healthy dependency should return
	// true so they do not trip the circuit.
	IsSuccessful func(err error) bool
}

// DefaultConfig returns conservative defaults for a synchronous HTTP
// dependency.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		CallTimeout:      3 * time.Second,
	}
}

// Stats holds cumulative request counters, independent of the state machine.
type Stats struct {
	Total     uint64 `json:"total"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	TimedOut  uint64 `json:"timed_out"`
	Rejected  uint64 `json:"rejected"`
}

// Breaker is a circuit breaker for a single downstream dependency.
type Breaker struct {
	name string
	cfg  Config
	cb   *gobreaker.CircuitBreaker[any]

	total     atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a breaker for the named dependency.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0) // 0 = closed

	settings := gobreaker.Settings{
		Name: cfg.Name,
		// MaxRequests doubles as the half-open success threshold: gobreaker
		// closes the circuit after this many consecutive half-open successes.
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateString(from)).
				Str("to", stateString(to)).
				Msg("circuit breaker state transition")
			metrics.RecordBreakerTransition(name, stateString(from), stateString(to), stateValue(to))
		},
	}
	if cfg.IsSuccessful != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || cfg.IsSuccessful(err)
		}
	}

	return &Breaker{
		name: cfg.Name,
		cfg:  cfg,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Execute runs fn through the breaker. While open it fails fast with
// ErrCircuitOpen. With a call timeout configured, a call that does not settle
// in time fails with ErrCallTimeout and its eventual result is discarded.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.total.Add(1)

	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.runWithTimeout(ctx, fn)
	})

	switch {
	case err == nil:
		b.succeeded.Add(1)
		metrics.RecordBreakerRequest(b.name, "success")
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.rejected.Add(1)
		metrics.RecordBreakerRequest(b.name, "rejected")
		return ErrCircuitOpen
	case errors.Is(err, ErrCallTimeout):
		b.timedOut.Add(1)
		metrics.RecordBreakerRequest(b.name, "timeout")
		return err
	default:
		b.failed.Add(1)
		metrics.RecordBreakerRequest(b.name, "failure")
		return err
	}
}

// runWithTimeout executes fn bounded by the call timeout. The fn goroutine is
// handed a canceled context on timeout so well-behaved calls abort early; a
// late result is dropped.
func (b *Breaker) runWithTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return ErrCallTimeout
		}
		return callCtx.Err()
	}
}

// State reports the current state as "closed", "half-open", or "open".
// gobreaker derives the state lazily from elapsed time, so an open circuit
// whose reset timeout has passed reports half-open even before the next call.
func (b *Breaker) State() string {
	return stateString(b.cb.State())
}

// Name returns the protected dependency's name.
func (b *Breaker) Name() string {
	return b.name
}

// Stats returns cumulative request counters.
func (b *Breaker) Stats() Stats {
	return Stats{
		Total:     b.total.Load(),
		Succeeded: b.succeeded.Load(),
		Failed:    b.failed.Load(),
		TimedOut:  b.timedOut.Load(),
		Rejected:  b.rejected.Load(),
	}
}

func stateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
