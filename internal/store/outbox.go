// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/orderbus/internal/model"
)

// LeaseNext atomically leases the oldest eligible outbox event for the
// given worker: pending, due for a retry, under the retry budget, and not
// currently held by a live lease. The subselect and the lock update happen
// in one statement, so two workers can never hold the same lease. Returns
// (nil, nil) when no event is eligible.
func (s *Store) LeaseNext(ctx context.Context, workerID string, leaseDuration time.Duration, maxRetries int) (*model.OutboxEvent, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE outbox_events
		SET locked_by = $1, locked_until = $2
		WHERE event_id = (
			SELECT event_id
			FROM outbox_events
			WHERE status = 'pending'
			  AND next_attempt_at <= $3
			  AND attempts < $4
			  AND (locked_by IS NULL OR locked_until <= $3)
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING event_id, event_type, payload, status, attempts, locked_by, locked_until, next_attempt_at, published_at, last_error, created_at`,
		workerID, now.Add(leaseDuration), now, maxRetries)

	event, err := scanOutboxEvent(row)
	if errors.Is(err, model.ErrEventNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leasing outbox event: %w", err)
	}
	return event, nil
}

// MarkPublished records a successful publish and clears the lease.
func (s *Store) MarkPublished(ctx context.Context, eventID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'published', published_at = $2, locked_by = NULL, locked_until = NULL
		WHERE event_id = $1`,
		eventID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking event published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrEventNotFound
	}
	return nil
}

// ScheduleRetry records a failed publish attempt: increments the attempt
// counter, stores the error, sets the next eligible time, and releases the
// lease so any worker may pick the event up later.
func (s *Store) ScheduleRetry(ctx context.Context, eventID string, nextAttemptAt time.Time, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1, next_attempt_at = $2, last_error = $3,
		    locked_by = NULL, locked_until = NULL
		WHERE event_id = $1`,
		eventID, nextAttemptAt, lastError)
	if err != nil {
		return fmt.Errorf("scheduling event retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrEventNotFound
	}
	return nil
}

// MoveToDeadLetter quarantines a poison event: copies it into the dead
// letter table and deletes the outbox row, in one transaction. The event's
// attempt count and last error are preserved in the copy.
func (s *Store) MoveToDeadLetter(ctx context.Context, event *model.OutboxEvent, reason string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO dead_letter_events (event_id, event_type, payload, attempts, last_error, original_status, reason, created_at, moved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			event.EventID, event.EventType, event.Payload, event.Attempts,
			event.LastError, event.Status, reason, event.CreatedAt, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("inserting dead letter event: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM outbox_events WHERE event_id = $1`, event.EventID); err != nil {
			return fmt.Errorf("deleting quarantined outbox event: %w", err)
		}
		return nil
	})
}

// MarkFailed is the degraded fallback when the dead letter write itself
// fails: the event stays in place as failed so no data is lost, at the
// cost of requiring operator intervention.
func (s *Store) MarkFailed(ctx context.Context, eventID string, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'failed', last_error = $2, locked_by = NULL, locked_until = NULL
		WHERE event_id = $1`,
		eventID, lastError)
	if err != nil {
		return fmt.Errorf("marking event failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrEventNotFound
	}
	return nil
}

// PendingCount returns the number of events awaiting publication.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE status = 'pending'`,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting pending events: %w", err)
	}
	return count, nil
}

// DeadLetterCount returns the number of quarantined events.
func (s *Store) DeadLetterCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM dead_letter_events`,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting dead letter events: %w", err)
	}
	return count, nil
}

// RecentDeadLetters lists the most recently quarantined events for
// operator inspection.
func (s *Store) RecentDeadLetters(ctx context.Context, limit int) ([]model.DeadLetterEvent, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_type, payload, attempts, last_error, original_status, reason, created_at, moved_at
		FROM dead_letter_events
		ORDER BY moved_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead letter events: %w", err)
	}
	defer rows.Close()

	var events []model.DeadLetterEvent
	for rows.Next() {
		var e model.DeadLetterEvent
		if err := rows.Scan(&e.EventID, &e.EventType, &e.Payload, &e.Attempts,
			&e.LastError, &e.OriginalStatus, &e.Reason, &e.CreatedAt, &e.MovedAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanOutboxEvent(row rowScanner) (*model.OutboxEvent, error) {
	var e model.OutboxEvent
	err := row.Scan(&e.EventID, &e.EventType, &e.Payload, &e.Status, &e.Attempts,
		&e.LockedBy, &e.LockedUntil, &e.NextAttemptAt, &e.PublishedAt, &e.LastError, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning outbox event: %w", err)
	}
	return &e, nil
}
