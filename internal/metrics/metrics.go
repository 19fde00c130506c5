// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

// Package metrics provides Prometheus instrumentation for Orderbus:
// order acceptance outcomes, outbox relay throughput, dead-letter volume,
// circuit breaker state, and inventory check results.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Order acceptance metrics
	OrdersAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderbus_orders_accepted_total",
			Help: "Total number of orders accepted",
		},
	)

	OrdersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbus_orders_rejected_total",
			Help: "Total number of orders rejected",
		},
		[]string{"reason"}, // "validation", "insufficient_stock", "idempotency_conflict", "internal"
	)

	IdempotentReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderbus_idempotent_replays_total",
			Help: "Total number of requests served from the idempotency cache",
		},
	)

	// Outbox relay metrics
	OutboxPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderbus_outbox_published_total",
			Help: "Total number of outbox events published to the broker",
		},
	)

	OutboxPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderbus_outbox_publish_failures_total",
			Help: "Total number of failed outbox publish attempts",
		},
	)

	OutboxPoisonEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderbus_outbox_poison_events_total",
			Help: "Total number of outbox events moved to the dead letter table",
		},
	)

	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderbus_outbox_pending_events",
			Help: "Current number of outbox events in pending state",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderbus_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbus_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbus_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breakers",
		},
		[]string{"name", "outcome"}, // "success", "failure", "timeout", "rejected"
	)

	// Inventory client metrics
	InventoryChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbus_inventory_checks_total",
			Help: "Total number of inventory availability checks",
		},
		[]string{"outcome"}, // "available", "insufficient", "unknown"
	)
)

// RecordOrderRejected increments the rejection counter for the given reason.
func RecordOrderRejected(reason string) {
	OrdersRejected.WithLabelValues(reason).Inc()
}

// RecordBreakerRequest increments the breaker request counter for an outcome.
func RecordBreakerRequest(name, outcome string) {
	CircuitBreakerRequests.WithLabelValues(name, outcome).Inc()
}

// RecordBreakerTransition records a breaker state transition and updates the
// state gauge.
func RecordBreakerTransition(name, from, to string, stateValue float64) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(stateValue)
}

// RecordInventoryCheck increments the inventory check counter for an outcome.
func RecordInventoryCheck(outcome string) {
	InventoryChecks.WithLabelValues(outcome).Inc()
}
