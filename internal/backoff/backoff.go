// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

// Package backoff implements exponential backoff with jitter for retry loops.
// It is used by the outbox relay for per-event publish retries and by the
// broker client for its unbounded reconnect loop.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrMaxRetriesExceeded is returned by Retry and reported by Tracker when the
// configured retry budget is exhausted. It wraps the last underlying failure.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Config holds backoff parameters.
type Config struct {
	// InitialDelay is the delay for the first attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponentially growing base delay.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor (default: 2.0).
	Multiplier float64

	// JitterFraction spreads each delay uniformly over
	// [-base*JitterFraction/2, +base*JitterFraction/2].
	JitterFraction float64

	// MaxRetries bounds the number of attempts. Zero means unbounded,
	// which is used for broker reconnection.
	MaxRetries int

	// RandomSeed makes jitter reproducible in tests. Zero selects a
	// time-based seed.
	RandomSeed int64
}

// DefaultConfig returns production defaults for bounded retry campaigns.
func DefaultConfig() Config {
	return Config{
		InitialDelay:   time.Second,
		MaxDelay:       time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		MaxRetries:     5,
	}
}

// normalize fills in zero values with usable defaults.
func (c Config) normalize() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = c.InitialDelay * 64
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1.0 {
		c.JitterFraction = 0.1
	}
	return c
}

// Delay computes the jittered delay for the given attempt (starting at 1).
// The base grows as InitialDelay * Multiplier^(attempt-1), capped at MaxDelay,
// and the result never exceeds MaxDelay * (1 + JitterFraction/2).
func Delay(attempt int, cfg Config) time.Duration {
	return delayWithRand(attempt, cfg.normalize(), globalRand)
}

func delayWithRand(attempt int, cfg Config, rng *lockedRand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// Cap the exponent to avoid overflow; the cap dominates long before then.
	exp := float64(attempt - 1)
	if exp > 50 {
		exp = 50
	}

	base := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, exp)
	if base < 0 || base > float64(cfg.MaxDelay) {
		base = float64(cfg.MaxDelay)
	}

	// Uniform offset in [-base*jf/2, +base*jf/2].
	jitter := base * cfg.JitterFraction * (rng.Float64() - 0.5)

	d := time.Duration(math.Round(base + jitter))
	if d < 0 {
		d = 0
	}
	return d
}

// lockedRand is a mutex-guarded rand.Rand safe for concurrent trackers.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	//nolint:gosec // G404: weak random is fine for non-cryptographic jitter
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

var globalRand = newLockedRand(0)

// Tracker carries the state of one retry campaign: the attempt counter and
// the total time spent sleeping. It is not safe for concurrent use; each
// campaign owns its tracker.
type Tracker struct {
	cfg     Config
	rng     *lockedRand
	attempt int
	total   time.Duration
}

// NewTracker creates a tracker for a retry campaign.
func NewTracker(cfg Config) *Tracker {
	cfg = cfg.normalize()
	return &Tracker{
		cfg: cfg,
		rng: newLockedRand(cfg.RandomSeed),
	}
}

// NextDelay advances the attempt counter and returns the delay to sleep
// before the next attempt.
func (t *Tracker) NextDelay() time.Duration {
	t.attempt++
	d := delayWithRand(t.attempt, t.cfg, t.rng)
	t.total += d
	return d
}

// Attempt returns the number of delays handed out so far.
func (t *Tracker) Attempt() int {
	return t.attempt
}

// TotalDelay returns the accumulated delay across the campaign.
func (t *Tracker) TotalDelay() time.Duration {
	return t.total
}

// MaxRetriesExceeded reports whether the bounded retry budget is spent.
// Always false when MaxRetries is unset (unbounded campaigns).
func (t *Tracker) MaxRetriesExceeded() bool {
	return t.cfg.MaxRetries > 0 && t.attempt >= t.cfg.MaxRetries
}

// Reset discards the campaign state so the tracker can be reused.
func (t *Tracker) Reset() {
	t.attempt = 0
	t.total = 0
}

// Retry calls fn until it succeeds, the retry budget is exhausted, or ctx is
// canceled. onRetry, if non-nil, is invoked before each sleep with the attempt
// number, the computed delay, and the error that caused the retry.
func Retry(ctx context.Context, cfg Config, fn func(ctx context.Context) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	tracker := NewTracker(cfg)

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if tracker.MaxRetriesExceeded() {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, tracker.Attempt()+1, err)
		}

		delay := tracker.NextDelay()
		if onRetry != nil {
			onRetry(tracker.Attempt(), delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
