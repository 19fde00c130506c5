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

// GetIdempotencyRecord fetches the record for a key. Expired records are
// treated as absent and lazily deleted. Returns (nil, nil) when no live
// record exists.
func (s *Store) GetIdempotencyRecord(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	var r model.IdempotencyRecord
	err := s.pool.QueryRow(ctx, `
		SELECT key, request_hash, response_status, response_body, expires_at, created_at
		FROM idempotency_keys
		WHERE key = $1`, key,
	).Scan(&r.Key, &r.RequestHash, &r.ResponseStatus, &r.ResponseBody, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching idempotency record: %w", err)
	}

	if time.Now().UTC().After(r.ExpiresAt) {
		_, _ = s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND expires_at = $2`, key, r.ExpiresAt)
		return nil, nil
	}
	return &r, nil
}

// ClaimIdempotencyKey atomically inserts a placeholder record for the key.
// The unique constraint arbitrates races: the winner gets claimed=true, the
// loser false. A lingering expired record is replaced by the new claim.
func (s *Store) ClaimIdempotencyKey(ctx context.Context, key, requestHash string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, response_status, expires_at, created_at)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_status = 0,
		    response_body = NULL,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at
		WHERE idempotency_keys.expires_at <= $4`,
		key, requestHash, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("claiming idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeIdempotencyKey overwrites the claim placeholder with the real
// response so later requests with the same key replay it.
func (s *Store) FinalizeIdempotencyKey(ctx context.Context, key string, status int, body []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE idempotency_keys
		SET response_status = $2, response_body = $3
		WHERE key = $1`,
		key, status, body)
	if err != nil {
		return fmt.Errorf("finalizing idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finalizing idempotency key %q: record missing", key)
	}
	return nil
}

// ReleaseIdempotencyKey deletes a claim after the guarded work failed, so a
// legitimate retry is not blocked by a stale placeholder.
func (s *Store) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}
