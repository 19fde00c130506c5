// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

// Package model defines the domain types shared across Orderbus: orders,
// outbox events, dead letter records, idempotency records, and the error
// taxonomy used to branch on failure classes.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// InventoryStatus tracks the asynchronous reservation state of an order's
// stock, reconciled by downstream consumers of the emitted events.
type InventoryStatus string

const (
	InventoryStatusPending   InventoryStatus = "pending"
	InventoryStatusReserved  InventoryStatus = "reserved"
	InventoryStatusConfirmed InventoryStatus = "confirmed"
	InventoryStatusFailed    InventoryStatus = "failed"
	InventoryStatusReleased  InventoryStatus = "released"
)

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Subtotal returns the item's contribution to the order total.
func (i OrderItem) Subtotal() float64 {
	return float64(i.Quantity) * i.Price
}

// Order is the aggregate committed by order acceptance. Orders are never
// deleted; terminal states are shipped, failed, and cancelled.
type Order struct {
	OrderID         string          `json:"order_id"`
	CustomerID      string          `json:"customer_id"`
	Items           []OrderItem     `json:"items"`
	TotalAmount     float64         `json:"total_amount"`
	Status          OrderStatus     `json:"status"`
	InventoryStatus InventoryStatus `json:"inventory_status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewOrder builds a pending order with a generated id and computed total.
// The input must already have passed Validate.
func NewOrder(customerID string, items []OrderItem) *Order {
	now := time.Now().UTC()
	o := &Order{
		OrderID:         uuid.NewString(),
		CustomerID:      customerID,
		Items:           items,
		Status:          OrderStatusPending,
		InventoryStatus: InventoryStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, item := range items {
		o.TotalAmount += item.Subtotal()
	}
	return o
}

// Validate checks the structural invariants of an order's input fields.
func (o *Order) Validate() error {
	if o.CustomerID == "" {
		return NewValidationError("customer_id is required")
	}
	if len(o.Items) == 0 {
		return NewValidationError("order must contain at least one item")
	}
	for i, item := range o.Items {
		if item.ProductID == "" {
			return NewValidationError(fmt.Sprintf("items[%d]: product_id is required", i))
		}
		if item.Quantity < 1 {
			return NewValidationError(fmt.Sprintf("items[%d]: quantity must be at least 1", i))
		}
		if item.Price < 0 {
			return NewValidationError(fmt.Sprintf("items[%d]: price must not be negative", i))
		}
	}
	return nil
}

// validTransitions encodes the monotonic order lifecycle: once an order
// leaves pending it never returns, and terminal states have no exits.
var validTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusShipped, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusShipped:   {},
	OrderStatusFailed:    {},
	OrderStatusCancelled: {},
}

// CanTransitionTo reports whether the order status may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
