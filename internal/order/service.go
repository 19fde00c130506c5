// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

// Package order implements order acceptance, shipping, and cancellation.
// Every state change commits its domain event in the same transaction
// (outbox pattern); acceptance is additionally guarded by idempotency keys
// so client retries never duplicate an order.
package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/orderbus/internal/inventory"
	"github.com/tomtom215/orderbus/internal/logging"
	"github.com/tomtom215/orderbus/internal/metrics"
	"github.com/tomtom215/orderbus/internal/model"
)

// Store is the persistence surface order operations need.
type Store interface {
	CreateOrderWithEvent(ctx context.Context, order *model.Order, event *model.OutboxEvent) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	TransitionOrder(ctx context.Context, orderID string, next model.OrderStatus, eventType model.EventType) (*model.Order, error)
}

// InventoryChecker is the synchronous stock-check surface, breaker-guarded
// by its implementation.
type InventoryChecker interface {
	CheckAvailability(ctx context.Context, productID string, qty int) inventory.Availability
	Reserve(ctx context.Context, productID string, qty int) error
}

// Service coordinates order operations.
type Service struct {
	store Store
	inv   InventoryChecker
	guard *idempotencyGuard
}

// New creates the order service. idempotencyTTL bounds how long accepted
// responses are replayable.
func New(store Store, idemStore IdempotencyStore, inv InventoryChecker, idempotencyTTL time.Duration) *Service {
	return &Service{
		store: store,
		inv:   inv,
		guard: newIdempotencyGuard(idemStore, idempotencyTTL),
	}
}

// AcceptRequest is the input to order acceptance. IdempotencyKey is
// optional; without it every submission creates a new order.
type AcceptRequest struct {
	CustomerID     string
	Items          []model.OrderItem
	IdempotencyKey string
}

// AcceptResult carries the outcome of acceptance: the response to send the
// client (fresh or replayed) and, for fresh acceptances, the created order.
type AcceptResult struct {
	Order    *model.Order
	Response Response
	Replayed bool
}

// acceptedBody is the JSON body returned on acceptance.
type acceptedBody struct {
	OrderID string            `json:"order_id"`
	Status  model.OrderStatus `json:"status"`
	Message string            `json:"message"`
}

// Accept validates and commits a new order plus its ORDER_CREATED event.
//
// Inventory checks favor availability: an unreachable or slow inventory
// service does not block acceptance, only an affirmative "insufficient
// stock" answer rejects the order. With an idempotency key present, a
// repeated submission replays the stored response without re-executing any
// side effects.
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (*AcceptResult, error) {
	o := model.NewOrder(req.CustomerID, req.Items)
	if err := o.Validate(); err != nil {
		metrics.RecordOrderRejected("validation")
		return nil, err
	}

	claimed := false
	if req.IdempotencyKey != "" {
		hash, err := hashRequest(req.CustomerID, req.Items)
		if err != nil {
			return nil, err
		}
		cached, _, err := s.guard.begin(ctx, req.IdempotencyKey, hash)
		if err != nil {
			if errors.Is(err, model.ErrIdempotencyConflict) {
				metrics.RecordOrderRejected("idempotency_conflict")
			}
			return nil, err
		}
		if cached != nil {
			metrics.IdempotentReplays.Inc()
			logging.Debug().
				Str("idempotency_key", req.IdempotencyKey).
				Msg("replaying cached response for idempotent request")
			return &AcceptResult{Response: *cached, Replayed: true}, nil
		}
		claimed = true
	}

	if err := s.checkInventory(ctx, req.Items); err != nil {
		metrics.RecordOrderRejected("insufficient_stock")
		s.releaseClaim(ctx, claimed, req.IdempotencyKey)
		return nil, err
	}

	event, err := model.NewOutboxEvent(model.EventOrderCreated, model.NewOrderEventPayload(o))
	if err != nil {
		s.releaseClaim(ctx, claimed, req.IdempotencyKey)
		return nil, err
	}
	if err := s.store.CreateOrderWithEvent(ctx, o, event); err != nil {
		metrics.RecordOrderRejected("internal")
		s.releaseClaim(ctx, claimed, req.IdempotencyKey)
		return nil, model.NewTransientError("committing order", err)
	}

	body, err := json.Marshal(acceptedBody{
		OrderID: o.OrderID,
		Status:  o.Status,
		Message: "order accepted",
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling acceptance response: %w", err)
	}
	resp := Response{StatusCode: http.StatusAccepted, Body: body}

	if claimed {
		// The order is committed; a finalize failure only degrades replay
		// for this key, it must not fail the request.
		if err := s.guard.store.FinalizeIdempotencyKey(ctx, req.IdempotencyKey, resp.StatusCode, resp.Body); err != nil {
			logging.Err(err).
				Str("idempotency_key", req.IdempotencyKey).
				Msg("failed to finalize idempotency record")
		}
	}

	metrics.OrdersAccepted.Inc()
	logging.Info().
		Str("order_id", o.OrderID).
		Str("customer_id", o.CustomerID).
		Float64("total_amount", o.TotalAmount).
		Str("event_id", event.EventID).
		Msg("order accepted")

	return &AcceptResult{Order: o, Response: resp}, nil
}

// checkInventory consults the inventory service per item. Unknown results
// pass; only an affirmative refusal rejects.
func (s *Service) checkInventory(ctx context.Context, items []model.OrderItem) error {
	for _, item := range items {
		av := s.inv.CheckAvailability(ctx, item.ProductID, item.Quantity)
		if av.Known && !av.Available {
			return fmt.Errorf("product %s: %w", item.ProductID, model.ErrInsufficientStock)
		}
	}
	return nil
}

func (s *Service) releaseClaim(ctx context.Context, claimed bool, key string) {
	if !claimed {
		return
	}
	if err := s.guard.store.ReleaseIdempotencyKey(ctx, key); err != nil {
		logging.Err(err).Str("idempotency_key", key).Msg("failed to release idempotency claim")
	}
}

// Get fetches an order by id.
func (s *Service) Get(ctx context.Context, orderID string) (*model.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// Ship reserves stock and moves the order to shipped, emitting
// ORDER_SHIPPED in the same transaction. Reservation follows the same
// availability bias as acceptance: only an affirmative stock refusal
// blocks shipping.
func (s *Service) Ship(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	for _, item := range o.Items {
		err := s.inv.Reserve(ctx, item.ProductID, item.Quantity)
		switch {
		case err == nil:
		case model.KindOf(err) == model.KindDownstreamUnavailable:
			logging.Warn().
				Err(err).
				Str("order_id", orderID).
				Str("product_id", item.ProductID).
				Msg("inventory reservation skipped, shipping anyway")
		default:
			return nil, err
		}
	}

	shipped, err := s.store.TransitionOrder(ctx, orderID, model.OrderStatusShipped, model.EventOrderShipped)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("order_id", orderID).Msg("order shipped")
	return shipped, nil
}

// Cancel moves the order to cancelled, emitting ORDER_CANCELLED in the
// same transaction.
func (s *Service) Cancel(ctx context.Context, orderID string) (*model.Order, error) {
	cancelled, err := s.store.TransitionOrder(ctx, orderID, model.OrderStatusCancelled, model.EventOrderCancelled)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("order_id", orderID).Msg("order cancelled")
	return cancelled, nil
}
