// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

// Package relay moves committed outbox events to the broker. A worker
// leases one pending event at a time, publishes it with bounded local
// retries, and on repeated failure schedules a backed-off retry or
// quarantines the event into the dead letter table. Multiple workers may
// run against the same outbox; the lease acquisition is the sole mutual
// exclusion mechanism.
package relay

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/orderbus/internal/backoff"
	"github.com/tomtom215/orderbus/internal/broker"
	"github.com/tomtom215/orderbus/internal/config"
	"github.com/tomtom215/orderbus/internal/logging"
	"github.com/tomtom215/orderbus/internal/metrics"
	"github.com/tomtom215/orderbus/internal/model"
)

// DeadLetterReasonMaxRetries is recorded on events quarantined after
// exhausting the retry budget.
const DeadLetterReasonMaxRetries = "max_retries_exceeded"

// OutboxStore is the persistence surface the relay needs.
type OutboxStore interface {
	LeaseNext(ctx context.Context, workerID string, leaseDuration time.Duration, maxRetries int) (*model.OutboxEvent, error)
	MarkPublished(ctx context.Context, eventID string) error
	ScheduleRetry(ctx context.Context, eventID string, nextAttemptAt time.Time, lastError string) error
	MoveToDeadLetter(ctx context.Context, event *model.OutboxEvent, reason string) error
	MarkFailed(ctx context.Context, eventID string, lastError string) error
	PendingCount(ctx context.Context) (int64, error)
}

// BackoffStats reports the worker's reconnect backoff campaign.
type BackoffStats struct {
	Attempts   int           `json:"attempts"`
	TotalDelay time.Duration `json:"total_delay"`
}

// Stats is the operational snapshot exposed to tooling.
type Stats struct {
	WorkerID          string       `json:"worker_id"`
	TotalPublished    uint64       `json:"total_published"`
	TotalFailed       uint64       `json:"total_failed"`
	TotalPoisonEvents uint64       `json:"total_poison_events"`
	IsRunning         bool         `json:"is_running"`
	IsConnected       bool         `json:"is_connected"`
	Backoff           BackoffStats `json:"backoff"`
}

// Worker is one relay instance. Run one per process; competing processes
// coordinate purely through leases.
type Worker struct {
	cfg      config.RelayConfig
	store    OutboxStore
	broker   broker.Broker
	workerID string

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	stopDone  chan struct{}
	reconnect *backoff.Tracker

	totalPublished atomic.Uint64
	totalFailed    atomic.Uint64
	totalPoison    atomic.Uint64
}

// NewWorker creates a relay worker with a process-unique identity used as
// the lease owner, so a crashed worker's leases are attributable and
// reclaimable after expiry.
func NewWorker(cfg config.RelayConfig, store OutboxStore, b broker.Broker) *Worker {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Worker{
		cfg:      cfg,
		store:    store,
		broker:   b,
		workerID: fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano()),
		reconnect: backoff.NewTracker(backoff.Config{
			InitialDelay:   time.Second,
			MaxDelay:       30 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.2,
			// MaxRetries unset: reconnect forever.
		}),
	}
}

// WorkerID returns the lease owner identity.
func (w *Worker) WorkerID() string {
	return w.workerID
}

// Start launches the polling loop. Returns an error if already running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("relay worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.stopDone = make(chan struct{})

	go w.run(runCtx)

	logging.Info().
		Str("worker_id", w.workerID).
		Dur("poll_interval", w.cfg.PollInterval).
		Dur("lease_duration", w.cfg.LeaseDuration).
		Int("max_retries", w.cfg.MaxRetries).
		Msg("relay worker started")
	return nil
}

// Stop requests shutdown and waits for the in-flight lease and publish to
// finish. Safe to call when not running.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.stopDone
	w.mu.Unlock()

	cancel()
	<-done
	logging.Info().Str("worker_id", w.workerID).Msg("relay worker stopped")
}

// Stats returns a snapshot of the worker's counters and liveness.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	running := w.running
	attempts := w.reconnect.Attempt()
	totalDelay := w.reconnect.TotalDelay()
	w.mu.Unlock()

	return Stats{
		WorkerID:          w.workerID,
		TotalPublished:    w.totalPublished.Load(),
		TotalFailed:       w.totalFailed.Load(),
		TotalPoisonEvents: w.totalPoison.Load(),
		IsRunning:         running,
		IsConnected:       w.broker.IsConnected(),
		Backoff:           BackoffStats{Attempts: attempts, TotalDelay: totalDelay},
	}
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		close(w.stopDone)
		w.mu.Unlock()
	}()

	for {
		if err := w.ensureConnected(ctx); err != nil {
			return // ctx canceled
		}

		w.processBatch(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// ensureConnected blocks until the broker is usable, sleeping the
// reconnect tracker's growing delays. Only ctx cancellation aborts.
func (w *Worker) ensureConnected(ctx context.Context) error {
	if w.broker.IsConnected() {
		w.resetReconnect()
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.broker.Connect(ctx); err == nil && w.broker.IsConnected() {
			w.resetReconnect()
			return nil
		} else if err != nil {
			logging.Warn().Err(err).Msg("broker connect failed")
		}

		w.mu.Lock()
		delay := w.reconnect.NextDelay()
		attempt := w.reconnect.Attempt()
		w.mu.Unlock()

		logging.Warn().
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("waiting for broker connection")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if w.broker.IsConnected() {
			w.resetReconnect()
			return nil
		}
	}
}

func (w *Worker) resetReconnect() {
	w.mu.Lock()
	w.reconnect.Reset()
	w.mu.Unlock()
}

// processBatch leases and publishes up to BatchSize events, bounding tail
// latency for fresh events without starving the poll loop.
func (w *Worker) processBatch(ctx context.Context) {
	for i := 0; i < w.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			return
		}

		event, err := w.store.LeaseNext(ctx, w.workerID, w.cfg.LeaseDuration, w.cfg.MaxRetries)
		if err != nil {
			logging.Err(err).Msg("leasing outbox event failed")
			return
		}
		if event == nil {
			return // nothing eligible
		}

		w.process(ctx, event)
	}
}

// process publishes one leased event and settles its outcome.
func (w *Worker) process(ctx context.Context, event *model.OutboxEvent) {
	subject := event.EventType.RoutingKey()

	err := w.publishLeased(ctx, event, subject)

	if err == nil {
		w.settlePublished(ctx, event, subject)
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-publish: leave the lease to expire; another worker
		// will reclaim the event.
		return
	}
	w.settleFailed(ctx, event, err)
}

// publishLeased makes one publish attempt, plus up to LocalRetries quick
// local retries to absorb transient broker hiccups without burning the
// event's persistent retry budget. In the backoff package MaxRetries 0
// means unbounded, so zero local retries bypasses the retry loop entirely;
// a leased event always makes a bounded number of attempts.
func (w *Worker) publishLeased(ctx context.Context, event *model.OutboxEvent, subject string) error {
	if w.cfg.LocalRetries < 1 {
		return w.broker.Publish(ctx, subject, event.EventID, event.Payload)
	}

	publishCfg := backoff.Config{
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		MaxRetries:     w.cfg.LocalRetries,
	}
	return backoff.Retry(ctx, publishCfg, func(ctx context.Context) error {
		return w.broker.Publish(ctx, subject, event.EventID, event.Payload)
	}, func(attempt int, delay time.Duration, err error) {
		logging.Debug().
			Err(err).
			Str("event_id", event.EventID).
			Int("local_attempt", attempt).
			Dur("retry_in", delay).
			Msg("publish attempt failed, retrying locally")
	})
}

func (w *Worker) settlePublished(ctx context.Context, event *model.OutboxEvent, subject string) {
	if err := w.store.MarkPublished(ctx, event.EventID); err != nil {
		// The publish went out but the status write failed; the event will
		// be retried and the broker's duplicate suppression absorbs it.
		logging.Err(err).Str("event_id", event.EventID).Msg("marking event published failed")
		return
	}

	w.totalPublished.Add(1)
	metrics.OutboxPublished.Inc()
	logging.Info().
		Str("event_id", event.EventID).
		Str("subject", subject).
		Int("attempts", event.Attempts).
		Msg("event published")
}

func (w *Worker) settleFailed(ctx context.Context, event *model.OutboxEvent, pubErr error) {
	w.totalFailed.Add(1)
	metrics.OutboxPublishFailures.Inc()

	attempts := event.Attempts + 1
	if attempts >= w.cfg.MaxRetries {
		w.quarantine(ctx, event, pubErr, attempts)
		return
	}

	nextAttemptAt := time.Now().UTC().Add(retryDelay(attempts, w.cfg.BaseDelay, w.cfg.CapDelay))
	if err := w.store.ScheduleRetry(ctx, event.EventID, nextAttemptAt, pubErr.Error()); err != nil {
		logging.Err(err).Str("event_id", event.EventID).Msg("scheduling event retry failed")
		return
	}

	logging.Warn().
		Err(pubErr).
		Str("event_id", event.EventID).
		Int("attempts", attempts).
		Time("next_attempt_at", nextAttemptAt).
		Msg("publish failed, retry scheduled")
}

// quarantine moves a poison event to the dead letter table, preserving its
// attempt count and final error. If the move itself fails, the event is
// marked failed in place so it is never silently lost.
func (w *Worker) quarantine(ctx context.Context, event *model.OutboxEvent, pubErr error, attempts int) {
	poisoned := *event
	poisoned.Attempts = attempts
	lastError := pubErr.Error()
	poisoned.LastError = &lastError

	if err := w.store.MoveToDeadLetter(ctx, &poisoned, DeadLetterReasonMaxRetries); err != nil {
		logging.Err(err).Str("event_id", event.EventID).Msg("dead letter move failed, marking event failed in place")
		if markErr := w.store.MarkFailed(ctx, event.EventID, lastError); markErr != nil {
			logging.Err(markErr).Str("event_id", event.EventID).Msg("marking event failed also failed")
		}
		return
	}

	w.totalPoison.Add(1)
	metrics.OutboxPoisonEvents.Inc()
	logging.Error().
		Err(pubErr).
		Str("event_id", event.EventID).
		Int("attempts", attempts).
		Msg("event quarantined to dead letter table")
}

// retryDelay computes the persistent retry schedule:
// min(2^attempts * baseDelay, capDelay).
func retryDelay(attempts int, baseDelay, capDelay time.Duration) time.Duration {
	d := float64(baseDelay) * math.Pow(2, float64(attempts))
	if d > float64(capDelay) || d < 0 {
		return capDelay
	}
	return time.Duration(d)
}
