// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package model

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType identifies the domain event carried by an outbox row.
type EventType string

const (
	EventOrderCreated   EventType = "ORDER_CREATED"
	EventOrderShipped   EventType = "ORDER_SHIPPED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
)

// EventStatus is the delivery state of an outbox event.
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusPublished EventStatus = "published"

	// EventStatusFailed marks an event that exhausted its retries but could
	// not be moved to the dead letter table. Operator intervention required.
	EventStatusFailed EventStatus = "failed"
)

// RoutingKey maps an event type to its broker subject. Known types map to
// their canonical subjects; anything else falls back to a lowercased,
// dot-separated form of the type name.
func (t EventType) RoutingKey() string {
	switch t {
	case EventOrderCreated:
		return "order.created"
	case EventOrderShipped:
		return "order.shipped"
	case EventOrderCancelled:
		return "order.cancelled"
	default:
		return strings.ToLower(strings.ReplaceAll(string(t), "_", "."))
	}
}

// OutboxEvent is a to-be-published domain event, committed in the same
// transaction as the state change it describes. The event id doubles as the
// broker message id so downstream consumers can deduplicate redeliveries.
type OutboxEvent struct {
	EventID       string      `json:"event_id"`
	EventType     EventType   `json:"event_type"`
	Payload       []byte      `json:"payload"`
	Status        EventStatus `json:"status"`
	Attempts      int         `json:"attempts"`
	LockedBy      *string     `json:"locked_by,omitempty"`
	LockedUntil   *time.Time  `json:"locked_until,omitempty"`
	NextAttemptAt time.Time   `json:"next_attempt_at"`
	PublishedAt   *time.Time  `json:"published_at,omitempty"`
	LastError     *string     `json:"last_error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NewOutboxEvent builds a pending event for the given payload, which is
// serialized at construction time so a marshaling failure surfaces before
// the enclosing transaction starts.
func NewOutboxEvent(eventType EventType, payload any) (*OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewTransientError("marshaling event payload", err)
	}
	now := time.Now().UTC()
	return &OutboxEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Payload:       body,
		Status:        EventStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// OrderEventPayload is the order summary carried by order lifecycle events.
type OrderEventPayload struct {
	OrderID     string      `json:"order_id"`
	CustomerID  string      `json:"customer_id"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"total_amount"`
	Status      OrderStatus `json:"status"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// NewOrderEventPayload captures an order's state for event emission.
func NewOrderEventPayload(o *Order) OrderEventPayload {
	return OrderEventPayload{
		OrderID:     o.OrderID,
		CustomerID:  o.CustomerID,
		Items:       o.Items,
		TotalAmount: o.TotalAmount,
		Status:      o.Status,
		OccurredAt:  time.Now().UTC(),
	}
}

// DeadLetterEvent is a quarantined copy of a poison outbox event. Immutable
// once written; kept for operator inspection and manual replay.
type DeadLetterEvent struct {
	EventID        string      `json:"event_id"`
	EventType      EventType   `json:"event_type"`
	Payload        []byte      `json:"payload"`
	Attempts       int         `json:"attempts"`
	LastError      *string     `json:"last_error,omitempty"`
	OriginalStatus EventStatus `json:"original_status"`
	Reason         string      `json:"reason"`
	CreatedAt      time.Time   `json:"created_at"`
	MovedAt        time.Time   `json:"moved_at"`
}

// IdempotencyRecord stores the outcome of a previously accepted request.
// A record with ResponseStatus 0 is an unfinalized claim placeholder.
type IdempotencyRecord struct {
	Key            string    `json:"key"`
	RequestHash    string    `json:"request_hash"`
	ResponseStatus int       `json:"response_status"`
	ResponseBody   []byte    `json:"response_body,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Finalized reports whether the record carries a real response rather than
// the claim placeholder.
func (r *IdempotencyRecord) Finalized() bool {
	return r.ResponseStatus != 0
}
