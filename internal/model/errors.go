// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can branch exhaustively instead
// of sniffing error strings or concrete types.
type ErrorKind string

const (
	// KindValidation covers malformed input and idempotency key reuse with a
	// different payload. Never retried; surfaced to the caller.
	KindValidation ErrorKind = "validation"

	// KindDownstreamUnavailable covers a protected dependency being down or
	// slow. Absorbed on the acceptance path, not surfaced as order failure.
	KindDownstreamUnavailable ErrorKind = "downstream_unavailable"

	// KindTransient covers recoverable infrastructure failures (broker
	// disconnect, transaction conflict). Retried with backoff.
	KindTransient ErrorKind = "transient"

	// KindPoison marks an event that exhausted its publish retries and was
	// quarantined.
	KindPoison ErrorKind = "poison"
)

// Error is a classified failure. The wrapped cause, when present, stays
// reachable through errors.Is/As.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation-kind error.
func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NewDownstreamError wraps a dependency failure.
func NewDownstreamError(msg string, cause error) *Error {
	return &Error{Kind: KindDownstreamUnavailable, Message: msg, Cause: cause}
}

// NewTransientError wraps a recoverable infrastructure failure.
func NewTransientError(msg string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Cause: cause}
}

// NewPoisonError wraps the terminal failure of a quarantined event.
func NewPoisonError(msg string, cause error) *Error {
	return &Error{Kind: KindPoison, Message: msg, Cause: cause}
}

// KindOf extracts the classification of err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinel errors for conditions callers branch on directly.
var (
	// ErrIdempotencyConflict: the idempotency key was reused with a
	// different request payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different request payload")

	// ErrInsufficientStock: the inventory service affirmatively reported
	// not enough stock for an item.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOrderNotFound: no order exists with the given id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrEventNotFound: no outbox event exists with the given id.
	ErrEventNotFound = errors.New("outbox event not found")

	// ErrInvalidTransition: the requested order status change violates the
	// monotonic lifecycle.
	ErrInvalidTransition = errors.New("invalid order status transition")
)
