// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validateInventory(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(c.Database.URL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is invalid: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL must use postgres:// scheme, got %q", u.Scheme)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("DATABASE_MAX_CONNS must be at least 1, got %d", c.Database.MaxConns)
	}
	return nil
}

func (c *Config) validateBroker() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("BROKER_URL is required")
	}
	if !strings.HasPrefix(c.Broker.URL, "nats://") && !strings.HasPrefix(c.Broker.URL, "tls://") {
		return fmt.Errorf("BROKER_URL must use nats:// or tls:// scheme")
	}
	if c.Broker.StreamName == "" {
		return fmt.Errorf("BROKER_STREAM_NAME is required")
	}
	if c.Broker.SubjectPrefix == "" {
		return fmt.Errorf("BROKER_SUBJECT_PREFIX is required")
	}
	if c.Broker.Embedded && c.Broker.StoreDir == "" {
		return fmt.Errorf("BROKER_STORE_DIR is required when BROKER_EMBEDDED=true")
	}
	return nil
}

func (c *Config) validateRelay() error {
	if c.Relay.PollInterval <= 0 {
		return fmt.Errorf("RELAY_POLL_INTERVAL must be positive, got %v", c.Relay.PollInterval)
	}
	if c.Relay.LeaseDuration <= 0 {
		return fmt.Errorf("RELAY_LEASE_DURATION must be positive, got %v", c.Relay.LeaseDuration)
	}
	// A lease shorter than the poll interval would let another worker steal
	// an event while its current holder is still working on it.
	if c.Relay.LeaseDuration < c.Relay.PollInterval {
		return fmt.Errorf("RELAY_LEASE_DURATION (%v) must not be shorter than RELAY_POLL_INTERVAL (%v)",
			c.Relay.LeaseDuration, c.Relay.PollInterval)
	}
	if c.Relay.BatchSize < 1 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1, got %d", c.Relay.BatchSize)
	}
	if c.Relay.MaxRetries < 1 {
		return fmt.Errorf("RELAY_MAX_RETRIES must be at least 1, got %d", c.Relay.MaxRetries)
	}
	// Zero is valid and means a single publish attempt per lease.
	if c.Relay.LocalRetries < 0 || c.Relay.LocalRetries > 10 {
		return fmt.Errorf("RELAY_LOCAL_RETRIES must be between 0 and 10, got %d", c.Relay.LocalRetries)
	}
	if c.Relay.BaseDelay <= 0 {
		return fmt.Errorf("RELAY_BASE_DELAY must be positive, got %v", c.Relay.BaseDelay)
	}
	if c.Relay.CapDelay < c.Relay.BaseDelay {
		return fmt.Errorf("RELAY_CAP_DELAY (%v) must not be less than RELAY_BASE_DELAY (%v)",
			c.Relay.CapDelay, c.Relay.BaseDelay)
	}
	return nil
}

func (c *Config) validateInventory() error {
	if c.Inventory.URL == "" {
		return fmt.Errorf("INVENTORY_URL is required")
	}
	u, err := url.Parse(c.Inventory.URL)
	if err != nil {
		return fmt.Errorf("INVENTORY_URL is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("INVENTORY_URL must use http:// or https:// scheme, got %q", u.Scheme)
	}
	if c.Inventory.CallTimeout <= 0 {
		return fmt.Errorf("INVENTORY_CALL_TIMEOUT must be positive, got %v", c.Inventory.CallTimeout)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "disabled":
	default:
		return fmt.Errorf("LOGGING_LEVEL must be one of trace, debug, info, warn, error, disabled; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOGGING_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
