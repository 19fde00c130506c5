// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/orderbus/internal/model"
	"github.com/tomtom215/orderbus/internal/order"
	"github.com/tomtom215/orderbus/internal/relay"
)

type fakeOrderService struct {
	acceptRes *order.AcceptResult
	acceptErr error
	lastReq   order.AcceptRequest

	order *model.Order
	opErr error
}

func (f *fakeOrderService) Accept(_ context.Context, req order.AcceptRequest) (*order.AcceptResult, error) {
	f.lastReq = req
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	return f.acceptRes, nil
}

func (f *fakeOrderService) Get(context.Context, string) (*model.Order, error) {
	return f.order, f.opErr
}

func (f *fakeOrderService) Ship(context.Context, string) (*model.Order, error) {
	return f.order, f.opErr
}

func (f *fakeOrderService) Cancel(context.Context, string) (*model.Order, error) {
	return f.order, f.opErr
}

type fakeRelayWorker struct {
	stats relay.Stats
}

func (f *fakeRelayWorker) Stats() relay.Stats { return f.stats }

type fakeOpsStore struct {
	pending    int64
	dlqCount   int64
	dlqEntries []model.DeadLetterEvent
	pingErr    error
	lastLimit  int
	countErr   error
}

func (f *fakeOpsStore) PendingCount(context.Context) (int64, error) {
	return f.pending, f.countErr
}

func (f *fakeOpsStore) DeadLetterCount(context.Context) (int64, error) {
	return f.dlqCount, f.countErr
}

func (f *fakeOpsStore) RecentDeadLetters(_ context.Context, limit int) ([]model.DeadLetterEvent, error) {
	f.lastLimit = limit
	return f.dlqEntries, nil
}

func (f *fakeOpsStore) Ping(context.Context) error { return f.pingErr }

type fakeBreaker struct {
	state string
}

func (f *fakeBreaker) State() string { return f.state }

func newTestServer(orders *fakeOrderService, worker *fakeRelayWorker, ops *fakeOpsStore, brk *fakeBreaker) http.Handler {
	if orders == nil {
		orders = &fakeOrderService{}
	}
	if worker == nil {
		worker = &fakeRelayWorker{stats: relay.Stats{IsRunning: true, IsConnected: true}}
	}
	if ops == nil {
		ops = &fakeOpsStore{}
	}
	if brk == nil {
		brk = &fakeBreaker{state: "closed"}
	}
	return NewServer(orders, worker, ops, brk).Router()
}

func acceptedResult() *order.AcceptResult {
	return &order.AcceptResult{
		Response: order.Response{
			StatusCode: http.StatusAccepted,
			Body:       []byte(`{"order_id":"O1","status":"pending","message":"order accepted"}`),
		},
	}
}

const validOrderBody = `{"customer_id":"C1","items":[{"product_id":"P1","quantity":2,"price":10}]}`

func TestCreateOrder(t *testing.T) {
	t.Parallel()

	svc := &fakeOrderService{acceptRes: acceptedResult()}
	handler := newTestServer(svc, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(validOrderBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusAccepted, rec.Body)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["order_id"] != "O1" {
		t.Errorf("order_id = %v, want O1", body["order_id"])
	}
	if len(svc.lastReq.Items) != 1 || svc.lastReq.Items[0].ProductID != "P1" {
		t.Errorf("service received items %+v", svc.lastReq.Items)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"customer_id":`},
		{"missing customer", `{"items":[{"product_id":"P1","quantity":1}]}`},
		{"no items", `{"customer_id":"C1","items":[]}`},
		{"zero quantity", `{"customer_id":"C1","items":[{"product_id":"P1","quantity":0}]}`},
		{"negative price", `{"customer_id":"C1","items":[{"product_id":"P1","quantity":1,"price":-5}]}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := newTestServer(&fakeOrderService{acceptRes: acceptedResult()}, nil, nil, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestCreateOrderIdempotencyKeyPrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		header string
		want   string
	}{
		{"body only", `{"customer_id":"C1","items":[{"product_id":"P1","quantity":1}],"idempotency_key":"from-body"}`, "", "from-body"},
		{"header only", validOrderBody, "from-header", "from-header"},
		{"header wins over body", `{"customer_id":"C1","items":[{"product_id":"P1","quantity":1}],"idempotency_key":"from-body"}`, "from-header", "from-header"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeOrderService{acceptRes: acceptedResult()}
			handler := newTestServer(svc, nil, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(tt.body))
			if tt.header != "" {
				req.Header.Set(IdempotencyKeyHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if svc.lastReq.IdempotencyKey != tt.want {
				t.Errorf("service received key %q, want %q", svc.lastReq.IdempotencyKey, tt.want)
			}
		})
	}
}

func TestCreateOrderErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"insufficient stock", model.ErrInsufficientStock, http.StatusBadRequest},
		{"idempotency conflict", model.ErrIdempotencyConflict, http.StatusConflict},
		{"transient failure", model.NewTransientError("committing order", errors.New("timeout")), http.StatusInternalServerError},
		{"unclassified failure", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := newTestServer(&fakeOrderService{acceptErr: tt.err}, nil, nil, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(validOrderBody))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		o := model.NewOrder("C1", []model.OrderItem{{ProductID: "P1", Quantity: 1, Price: 3}})
		handler := newTestServer(&fakeOrderService{order: o}, nil, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+o.OrderID, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		var got model.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if got.OrderID != o.OrderID {
			t.Errorf("order_id = %q, want %q", got.OrderID, o.OrderID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		handler := newTestServer(&fakeOrderService{opErr: model.ErrOrderNotFound}, nil, nil, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/missing", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestShipOrderInvalidTransition(t *testing.T) {
	t.Parallel()

	handler := newTestServer(&fakeOrderService{opErr: model.ErrInvalidTransition}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/O1/ship", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestOutboxStats(t *testing.T) {
	t.Parallel()

	worker := &fakeRelayWorker{stats: relay.Stats{
		WorkerID:       "host-1-1",
		TotalPublished: 12,
		IsRunning:      true,
		IsConnected:    true,
	}}
	ops := &fakeOpsStore{pending: 4}
	handler := newTestServer(nil, worker, ops, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/outbox/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got outboxStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.PendingCount != 4 {
		t.Errorf("pending_count = %d, want 4", got.PendingCount)
	}
	if got.Worker.TotalPublished != 12 {
		t.Errorf("worker.total_published = %d, want 12", got.Worker.TotalPublished)
	}
}

func TestDLQEntries(t *testing.T) {
	t.Parallel()

	t.Run("lists entries", func(t *testing.T) {
		t.Parallel()

		lastError := "stream unavailable"
		ops := &fakeOpsStore{dlqEntries: []model.DeadLetterEvent{{
			EventID:   "E1",
			EventType: model.EventOrderCreated,
			Attempts:  5,
			LastError: &lastError,
			Reason:    "max_retries_exceeded",
			MovedAt:   time.Now().UTC(),
		}}}
		handler := newTestServer(nil, nil, ops, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/dlq/entries?limit=10", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		var got dlqEntriesResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if got.Count != 1 || got.Entries[0].EventID != "E1" {
			t.Errorf("response = %+v, want one entry E1", got)
		}
		if ops.lastLimit != 10 {
			t.Errorf("store received limit %d, want 10", ops.lastLimit)
		}
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		t.Parallel()

		handler := newTestServer(nil, nil, &fakeOpsStore{}, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/dlq/entries?limit=abc", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("caps oversized limit", func(t *testing.T) {
		t.Parallel()

		ops := &fakeOpsStore{}
		handler := newTestServer(nil, nil, ops, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/dlq/entries?limit=10000", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if ops.lastLimit != maxDLQLimit {
			t.Errorf("store received limit %d, want %d", ops.lastLimit, maxDLQLimit)
		}
	})
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()

		handler := newTestServer(nil, nil, nil, nil)
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("database down", func(t *testing.T) {
		t.Parallel()

		ops := &fakeOpsStore{pingErr: errors.New("connection refused")}
		handler := newTestServer(nil, nil, ops, nil)
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("open breaker degrades but stays up", func(t *testing.T) {
		t.Parallel()

		handler := newTestServer(nil, nil, nil, &fakeBreaker{state: "open"})
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		var got healthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if got.Components["inventory_breaker"].Status != "degraded" {
			t.Errorf("inventory_breaker = %+v, want degraded", got.Components["inventory_breaker"])
		}
	})
}
