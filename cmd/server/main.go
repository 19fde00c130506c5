// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

// Package main is the entry point for the Orderbus server.
//
// Orderbus is an order-processing backend built around the transactional
// outbox pattern: orders commit together with their domain events, and a
// relay worker delivers those events to NATS JetStream with lease-based
// competing consumption, retry with backoff, and dead-letter quarantine.
// A circuit breaker shields order acceptance from inventory service
// failures.
//
// # Startup Order
//
//  1. Configuration: Koanf v2 layered sources (defaults, YAML file, env)
//  2. Logging: zerolog, json or console format
//  3. Database: PostgreSQL pool, schema ensured on request
//  4. Broker: NATS JetStream, optionally embedded for single-binary runs
//  5. Relay worker: outbox polling loop
//  6. HTTP server: order API, operational endpoints, health, metrics
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server stops
// accepting connections, the relay worker finishes its in-flight lease,
// and the broker and database connections are closed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/tomtom215/orderbus/internal/api"
	"github.com/tomtom215/orderbus/internal/broker"
	"github.com/tomtom215/orderbus/internal/config"
	"github.com/tomtom215/orderbus/internal/inventory"
	"github.com/tomtom215/orderbus/internal/logging"
	"github.com/tomtom215/orderbus/internal/order"
	"github.com/tomtom215/orderbus/internal/relay"
	"github.com/tomtom215/orderbus/internal/store"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.Info().Msg("starting orderbus")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if cfg.Database.EnsureSchema {
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	var embedded *broker.EmbeddedServer
	if cfg.Broker.Embedded {
		embedded, err = broker.StartEmbedded(cfg.Broker.StoreDir)
		if err != nil {
			return fmt.Errorf("starting embedded broker: %w", err)
		}
		defer embedded.Shutdown()
		cfg.Broker.URL = embedded.ClientURL()
	}

	natsBroker := broker.NewNATS(cfg.Broker)
	if err := natsBroker.Connect(ctx); err != nil {
		// Not fatal: the relay worker keeps retrying with backoff, and
		// order acceptance does not depend on the broker.
		logging.Warn().Err(err).Msg("initial broker connection failed, relay will retry")
	}
	defer natsBroker.Close()

	invClient := inventory.New(cfg.Inventory)
	orderSvc := order.New(db, db, invClient, cfg.Idempotency.TTL)

	worker := relay.NewWorker(cfg.Relay, db, natsBroker)
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("starting relay worker: %w", err)
	}
	defer worker.Stop()

	apiServer := api.NewServer(orderSvc, worker, db, invClient.Breaker())
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("http server shutdown incomplete")
	}

	// Deferred: relay stop, broker drain, database close, embedded broker.
	logging.Info().Msg("orderbus stopped")
	return nil
}
