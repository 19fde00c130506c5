// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

// Package api exposes Orderbus over HTTP: order operations, relay and dead
// letter inspection for operators, health, and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/orderbus/internal/model"
	"github.com/tomtom215/orderbus/internal/order"
	"github.com/tomtom215/orderbus/internal/relay"
)

// OrderService is the order operations surface.
type OrderService interface {
	Accept(ctx context.Context, req order.AcceptRequest) (*order.AcceptResult, error)
	Get(ctx context.Context, orderID string) (*model.Order, error)
	Ship(ctx context.Context, orderID string) (*model.Order, error)
	Cancel(ctx context.Context, orderID string) (*model.Order, error)
}

// RelayWorker exposes relay stats for operational endpoints.
type RelayWorker interface {
	Stats() relay.Stats
}

// OpsStore is the read-only operational surface over persistence.
type OpsStore interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
	RecentDeadLetters(ctx context.Context, limit int) ([]model.DeadLetterEvent, error)
	Ping(ctx context.Context) error
}

// BreakerStatus exposes circuit breaker state for health reporting.
type BreakerStatus interface {
	State() string
}

// Server bundles the HTTP handlers and their dependencies.
type Server struct {
	orders  OrderService
	worker  RelayWorker
	ops     OpsStore
	breaker BreakerStatus
}

// NewServer creates the HTTP server facade.
func NewServer(orders OrderService, worker RelayWorker, ops OpsStore, breaker BreakerStatus) *Server {
	return &Server{orders: orders, worker: worker, ops: ops, breaker: breaker}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.handleCreateOrder)
			r.Get("/{orderID}", s.handleGetOrder)
			r.Post("/{orderID}/ship", s.handleShipOrder)
			r.Post("/{orderID}/cancel", s.handleCancelOrder)
		})
		r.Get("/outbox/stats", s.handleOutboxStats)
		r.Route("/dlq", func(r chi.Router) {
			r.Get("/entries", s.handleDLQEntries)
			r.Get("/stats", s.handleDLQStats)
		})
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
