// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

// Package broker publishes outbox events to NATS JetStream. The relay only
// needs a thin publish capability; the consuming side lives in downstream
// services.
package broker

import "context"

// Broker is the publish capability consumed by the outbox relay.
type Broker interface {
	// Connect establishes the connection and ensures the stream exists.
	// Safe to call repeatedly; a live connection is left untouched.
	Connect(ctx context.Context) error

	// Publish durably publishes body under the given subject. messageID is
	// attached for downstream deduplication of redeliveries.
	Publish(ctx context.Context, subject, messageID string, body []byte) error

	// IsConnected reports connection liveness for health and stats.
	IsConnected() bool

	// Close drains and closes the connection.
	Close()
}
