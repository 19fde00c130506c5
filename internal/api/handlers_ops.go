// Orderbus - Reliable Order Event Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/orderbus

package api

import (
	"net/http"
	"strconv"

	"github.com/tomtom215/orderbus/internal/logging"
	"github.com/tomtom215/orderbus/internal/metrics"
	"github.com/tomtom215/orderbus/internal/model"
	"github.com/tomtom215/orderbus/internal/relay"
)

const (
	defaultDLQLimit = 50
	maxDLQLimit     = 500
)

type outboxStatsResponse struct {
	Worker       relay.Stats `json:"worker"`
	PendingCount int64       `json:"pending_count"`
}

// handleOutboxStats reports the relay worker's counters plus the pending
// backlog size.
func (s *Server) handleOutboxStats(w http.ResponseWriter, r *http.Request) {
	pending, err := s.ops.PendingCount(r.Context())
	if err != nil {
		logging.Err(err).Msg("counting pending outbox events")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.OutboxPending.Set(float64(pending))

	writeJSON(w, http.StatusOK, outboxStatsResponse{
		Worker:       s.worker.Stats(),
		PendingCount: pending,
	})
}

type dlqStatsResponse struct {
	Count int64 `json:"count"`
}

// handleDLQStats reports the dead letter backlog size.
func (s *Server) handleDLQStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.ops.DeadLetterCount(r.Context())
	if err != nil {
		logging.Err(err).Msg("counting dead letter events")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, dlqStatsResponse{Count: count})
}

type dlqEntriesResponse struct {
	Entries []model.DeadLetterEvent `json:"entries"`
	Count   int                     `json:"count"`
}

// handleDLQEntries lists recently quarantined events, newest first.
// ?limit= bounds the page size.
func (s *Server) handleDLQEntries(w http.ResponseWriter, r *http.Request) {
	limit := defaultDLQLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxDLQLimit)
	}

	entries, err := s.ops.RecentDeadLetters(r.Context(), limit)
	if err != nil {
		logging.Err(err).Msg("listing dead letter events")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []model.DeadLetterEvent{}
	}
	writeJSON(w, http.StatusOK, dlqEntriesResponse{Entries: entries, Count: len(entries)})
}

type componentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentHealth `json:"components"`
}

// handleHealth reports component liveness: database, broker connection,
// relay worker, and the inventory circuit breaker state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]componentHealth)
	healthy := true

	if err := s.ops.Ping(r.Context()); err != nil {
		components["database"] = componentHealth{Status: "unhealthy", Detail: err.Error()}
		healthy = false
	} else {
		components["database"] = componentHealth{Status: "healthy"}
	}

	stats := s.worker.Stats()
	if stats.IsConnected {
		components["broker"] = componentHealth{Status: "healthy"}
	} else {
		components["broker"] = componentHealth{Status: "unhealthy", Detail: "not connected"}
		healthy = false
	}
	if stats.IsRunning {
		components["relay"] = componentHealth{Status: "healthy"}
	} else {
		components["relay"] = componentHealth{Status: "unhealthy", Detail: "worker not running"}
		healthy = false
	}

	// An open breaker degrades health but does not fail the probe: the
	// service still accepts orders without inventory confirmation.
	breakerState := s.breaker.State()
	if breakerState == "closed" {
		components["inventory_breaker"] = componentHealth{Status: "healthy"}
	} else {
		components["inventory_breaker"] = componentHealth{Status: "degraded", Detail: "state " + breakerState}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	writeJSON(w, status, healthResponse{Status: overall, Components: components})
}
