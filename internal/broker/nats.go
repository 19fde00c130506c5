// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package broker

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/orderbus/internal/config"
	"github.com/tomtom215/orderbus/internal/logging"
)

// NATSBroker publishes to a JetStream file-storage stream so messages
// survive broker restarts. Event ids ride in the Nats-Msg-Id header, which
// JetStream also uses for server-side duplicate suppression.
type NATSBroker struct {
	cfg config.BrokerConfig
	nc  *natsgo.Conn
	js  natsgo.JetStreamContext
}

// NewNATS creates an unconnected broker client.
func NewNATS(cfg config.BrokerConfig) *NATSBroker {
	return &NATSBroker{cfg: cfg}
}

// Connect dials the server and ensures the configured stream exists.
// The client reconnects on its own indefinitely once the first connection
// is established, so repeated calls while a dial or reconnect is in flight
// are no-ops.
func (b *NATSBroker) Connect(ctx context.Context) error {
	if b.nc != nil {
		return nil
	}

	opts := []natsgo.Option{
		natsgo.Name("orderbus-relay"),
		natsgo.Timeout(b.cfg.ConnectTimeout),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			logging.Warn().Err(err).Msg("broker disconnected")
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("broker reconnected")
		}),
		natsgo.ClosedHandler(func(_ *natsgo.Conn) {
			logging.Warn().Msg("broker connection closed")
		}),
	}

	nc, err := natsgo.Connect(b.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("obtaining jetstream context: %w", err)
	}

	b.nc = nc
	b.js = js

	if err := b.ensureStream(); err != nil {
		nc.Close()
		b.nc = nil
		b.js = nil
		return err
	}

	logging.Info().
		Str("url", b.cfg.URL).
		Str("stream", b.cfg.StreamName).
		Msg("broker connected")
	return nil
}

// ensureStream creates the stream if it does not exist yet.
func (b *NATSBroker) ensureStream() error {
	_, err := b.js.StreamInfo(b.cfg.StreamName)
	if err == nil {
		return nil
	}
	if err != natsgo.ErrStreamNotFound {
		return fmt.Errorf("inspecting stream %s: %w", b.cfg.StreamName, err)
	}

	_, err = b.js.AddStream(&natsgo.StreamConfig{
		Name:       b.cfg.StreamName,
		Subjects:   []string{b.cfg.SubjectPrefix + ".>"},
		Storage:    natsgo.FileStorage,
		Retention:  natsgo.LimitsPolicy,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", b.cfg.StreamName, err)
	}
	return nil
}

// Publish durably publishes body under subject with the given message id.
// The call blocks until JetStream acknowledges persistence or the publish
// timeout elapses.
func (b *NATSBroker) Publish(ctx context.Context, subject, messageID string, body []byte) error {
	if b.js == nil {
		return fmt.Errorf("broker not connected")
	}

	pubCtx := ctx
	if b.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(ctx, b.cfg.PublishTimeout)
		defer cancel()
	}

	msg := &natsgo.Msg{
		Subject: subject,
		Data:    body,
		Header:  natsgo.Header{},
	}
	msg.Header.Set(natsgo.MsgIdHdr, messageID)

	if _, err := b.js.PublishMsg(msg, natsgo.Context(pubCtx)); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// IsConnected reports whether the underlying connection is live.
func (b *NATSBroker) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (b *NATSBroker) Close() {
	if b.nc == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		logging.Warn().Err(err).Msg("draining broker connection")
		b.nc.Close()
	}
}
