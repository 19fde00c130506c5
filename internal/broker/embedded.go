// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/orderbus/internal/logging"
)

// EmbeddedServer runs an in-process NATS JetStream server, giving
// single-binary deployments durable event delivery without an external
// broker.
type EmbeddedServer struct {
	server *server.Server
}

// StartEmbedded creates and starts an embedded NATS server with JetStream
// backed by storeDir. Fails if the server is not ready within 30 seconds.
func StartEmbedded(storeDir string) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "orderbus-broker",
		Host:       "127.0.0.1",
		Port:       -1, // random free port
		JetStream:  true,
		StoreDir:   storeDir,
		NoLog:      true,
		MaxPayload: 1 << 20,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("creating embedded broker: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded broker not ready within timeout")
	}

	logging.Info().Str("url", ns.ClientURL()).Msg("embedded broker started")
	return &EmbeddedServer{server: ns}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
