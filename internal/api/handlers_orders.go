// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/orderbus/internal/logging"
	"github.com/tomtom215/orderbus/internal/model"
	"github.com/tomtom215/orderbus/internal/order"
)

// IdempotencyKeyHeader carries the client's idempotency key. It takes
// precedence over the body field when both are supplied.
const IdempotencyKeyHeader = "X-Idempotency-Key"

var validate = validator.New()

type orderItemRequest struct {
	ProductID string  `json:"product_id" validate:"required"`
	Quantity  int     `json:"quantity" validate:"required,min=1"`
	Price     float64 `json:"price" validate:"min=0"`
}

type createOrderRequest struct {
	CustomerID     string             `json:"customer_id" validate:"required"`
	Items          []orderItemRequest `json:"items" validate:"required,min=1,dive"`
	IdempotencyKey string             `json:"idempotency_key"`
}

// handleCreateOrder accepts an order: 202 on acceptance (fresh or
// replayed), 400 on validation or stock rejection, 409 on idempotency key
// reuse with a different payload, 500 on internal failure.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := req.IdempotencyKey
	if header := r.Header.Get(IdempotencyKeyHeader); header != "" {
		key = header
	}

	items := make([]model.OrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = model.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price}
	}

	res, err := s.orders.Accept(r.Context(), order.AcceptRequest{
		CustomerID:     req.CustomerID,
		Items:          items,
		IdempotencyKey: key,
	})
	if err != nil {
		s.respondAcceptError(w, err)
		return
	}

	writeRaw(w, res.Response.StatusCode, res.Response.Body)
}

func (s *Server) respondAcceptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrIdempotencyConflict):
		respondError(w, http.StatusConflict, "idempotency key reused with a different payload")
	case errors.Is(err, model.ErrInsufficientStock):
		respondError(w, http.StatusBadRequest, err.Error())
	case model.KindOf(err) == model.KindValidation:
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Err(err).Msg("order acceptance failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleGetOrder returns an order by id.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.respondOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleShipOrder moves an order to shipped.
func (s *Server) handleShipOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Ship(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.respondOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleCancelOrder moves an order to cancelled.
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Cancel(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.respondOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) respondOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, model.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrInsufficientStock):
		respondError(w, http.StatusConflict, err.Error())
	default:
		logging.Err(err).Msg("order operation failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
