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

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/orderbus/internal/model"
)

// CreateOrderWithEvent inserts an order and its outbox event in one
// transaction. Both commit or neither does; a committed order without its
// event (or vice versa) is never observable.
func (s *Store) CreateOrderWithEvent(ctx context.Context, order *model.Order, event *model.OutboxEvent) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO orders (order_id, customer_id, items, total_amount, status, inventory_status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			order.OrderID, order.CustomerID, items, order.TotalAmount,
			order.Status, order.InventoryStatus, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}
		return insertOutboxEvent(ctx, tx, event)
	})
}

// GetOrder fetches an order by id.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT order_id, customer_id, items, total_amount, status, inventory_status, created_at, updated_at
		FROM orders
		WHERE order_id = $1`, orderID)
	return scanOrder(row)
}

// TransitionOrder moves an order to the next status and records the given
// event in the same transaction, enforcing the monotonic lifecycle. The
// order row is locked for the duration so concurrent transitions serialize.
func (s *Store) TransitionOrder(ctx context.Context, orderID string, next model.OrderStatus, eventType model.EventType) (*model.Order, error) {
	var order *model.Order

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT order_id, customer_id, items, total_amount, status, inventory_status, created_at, updated_at
			FROM orders
			WHERE order_id = $1
			FOR UPDATE`, orderID)

		o, err := scanOrder(row)
		if err != nil {
			return err
		}
		if !o.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, o.Status, next)
		}

		o.Status = next
		o.UpdatedAt = time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE orders SET status = $2, updated_at = $3 WHERE order_id = $1`,
			o.OrderID, o.Status, o.UpdatedAt,
		); err != nil {
			return fmt.Errorf("updating order status: %w", err)
		}

		event, err := model.NewOutboxEvent(eventType, model.NewOrderEventPayload(o))
		if err != nil {
			return err
		}
		if err := insertOutboxEvent(ctx, tx, event); err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, event *model.OutboxEvent) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_type, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.EventID, event.EventType, event.Payload,
		event.Status, event.Attempts, event.NextAttemptAt, event.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting outbox event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o     model.Order
		items []byte
	)
	err := row.Scan(&o.OrderID, &o.CustomerID, &items, &o.TotalAmount,
		&o.Status, &o.InventoryStatus, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning order: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	return &o, nil
}
