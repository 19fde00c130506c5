// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

// Package inventory is a thin synchronous client for the inventory service.
// Every call runs through a circuit breaker; breaker rejections, timeouts,
// and transport failures all collapse into "availability unknown" so the
// order path never blocks on a sick dependency.
package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/orderbus/internal/breaker"
	"github.com/tomtom215/orderbus/internal/config"
	"github.com/tomtom215/orderbus/internal/logging"
	"github.com/tomtom215/orderbus/internal/metrics"
	"github.com/tomtom215/orderbus/internal/model"
)

// Availability is the outcome of a stock check. Known=false means the check
// could not be completed (circuit open, timeout, transport failure) and the
// caller should proceed without confirmation.
type Availability struct {
	Known     bool
	Available bool
}

// Client calls the inventory service through a circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *breaker.Breaker
}

// New creates a client for the configured inventory service.
func New(cfg config.InventoryConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			// The breaker's call timeout is the effective bound; this is a
			// backstop for calls made while the timeout is disabled.
			Timeout: 2 * cfg.CallTimeout,
		},
		breaker: breaker.New(breaker.Config{
			Name:             "inventory",
			FailureThreshold: cfg.FailureThreshold,
			SuccessThreshold: cfg.SuccessThreshold,
			ResetTimeout:     cfg.ResetTimeout,
			CallTimeout:      cfg.CallTimeout,
			// A stock refusal is a healthy answer, not a dependency failure.
			IsSuccessful: func(err error) bool {
				return errors.Is(err, model.ErrInsufficientStock)
			},
		}),
	}
}

// Breaker exposes the underlying breaker for health reporting.
func (c *Client) Breaker() *breaker.Breaker {
	return c.breaker
}

type availabilityResponse struct {
	ProductID string `json:"product_id"`
	Available bool   `json:"available"`
}

// CheckAvailability asks whether qty units of a product are in stock. The
// returned Availability is Known only when the service answered; failures
// of any kind are absorbed and logged.
func (c *Client) CheckAvailability(ctx context.Context, productID string, qty int) Availability {
	var resp availabilityResponse

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/api/v1/inventory/%s/availability?quantity=%d", c.baseURL, productID, qty)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		return c.do(req, &resp)
	})
	if err != nil {
		logging.Warn().
			Err(err).
			Str("product_id", productID).
			Bool("circuit_open", errors.Is(err, breaker.ErrCircuitOpen)).
			Msg("inventory check skipped, treating availability as unknown")
		metrics.RecordInventoryCheck("unknown")
		return Availability{Known: false}
	}

	if resp.Available {
		metrics.RecordInventoryCheck("available")
	} else {
		metrics.RecordInventoryCheck("insufficient")
	}
	return Availability{Known: true, Available: resp.Available}
}

type reserveRequest struct {
	Quantity int `json:"quantity"`
}

// Reserve asks the service to hold qty units of a product. An affirmative
// stock refusal surfaces as ErrInsufficientStock; dependency failure
// surfaces as a downstream-unavailable error the caller may absorb.
func (c *Client) Reserve(ctx context.Context, productID string, qty int) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(reserveRequest{Quantity: qty})
		if err != nil {
			return err
		}
		url := fmt.Sprintf("%s/api/v1/inventory/%s/reserve", c.baseURL, productID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req, nil)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrInsufficientStock):
		return err
	default:
		return model.NewDownstreamError(fmt.Sprintf("reserving %d of %s", qty, productID), err)
	}
}

// do executes the request and decodes a JSON body into out when provided.
// 409 maps to ErrInsufficientStock; other non-2xx statuses are failures.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return model.ErrInsufficientStock
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("inventory service returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding inventory response: %w", err)
	}
	return nil
}
