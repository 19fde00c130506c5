// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/orderbus/internal/model"
)

// IdempotencyStore is the persistence surface the guard needs.
type IdempotencyStore interface {
	GetIdempotencyRecord(ctx context.Context, key string) (*model.IdempotencyRecord, error)
	ClaimIdempotencyKey(ctx context.Context, key, requestHash string, ttl time.Duration) (bool, error)
	FinalizeIdempotencyKey(ctx context.Context, key string, status int, body []byte) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// Response is a cached or to-be-cached request outcome, replayed verbatim
// on idempotent retries.
type Response struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// idempotencyGuard implements the claim/replay protocol around a request.
type idempotencyGuard struct {
	store IdempotencyStore
	ttl   time.Duration

	// Race losers and requests racing an in-flight original poll for the
	// winner's finalized response within this budget.
	pollInterval time.Duration
	pollBudget   time.Duration
}

func newIdempotencyGuard(store IdempotencyStore, ttl time.Duration) *idempotencyGuard {
	return &idempotencyGuard{
		store:        store,
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
		pollBudget:   2 * time.Second,
	}
}

// begin runs the claim protocol for key. Exactly one of the returns is
// meaningful: a cached response to replay, claimed=true to proceed with
// real work, or an error (hash conflict, in-flight timeout, store failure).
func (g *idempotencyGuard) begin(ctx context.Context, key, requestHash string) (*Response, bool, error) {
	deadline := time.Now().Add(g.pollBudget)

	for {
		rec, err := g.store.GetIdempotencyRecord(ctx, key)
		if err != nil {
			return nil, false, err
		}

		if rec != nil {
			if rec.RequestHash != requestHash {
				return nil, false, model.ErrIdempotencyConflict
			}
			if rec.Finalized() {
				return &Response{StatusCode: rec.ResponseStatus, Body: rec.ResponseBody}, false, nil
			}
			// Placeholder: the original request is still in flight. Wait
			// for its outcome rather than duplicating the side effects.
			if time.Now().After(deadline) {
				return nil, false, model.NewTransientError(
					fmt.Sprintf("idempotent request %q still in flight", key), nil)
			}
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(g.pollInterval):
			}
			continue
		}

		claimed, err := g.store.ClaimIdempotencyKey(ctx, key, requestHash, g.ttl)
		if err != nil {
			return nil, false, err
		}
		if claimed {
			return nil, true, nil
		}
		// Lost the insert race; loop re-reads the winner's record.
	}
}

// hashRequest computes the content hash over the semantically relevant
// request fields. The idempotency key itself is deliberately excluded.
func hashRequest(customerID string, items []model.OrderItem) (string, error) {
	canonical := struct {
		CustomerID string            `json:"customer_id"`
		Items      []model.OrderItem `json:"items"`
	}{CustomerID: customerID, Items: items}

	body, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("hashing request: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
