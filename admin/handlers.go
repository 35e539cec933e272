package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// QueueStatsProvider reports work waiting in the pipeline
type QueueStatsProvider interface {
	QueueDepth() int
}

// AdminHandlers serves relay health and per-table statistics
type AdminHandlers struct {
	instanceID string
	stats      *Stats
	queue      QueueStatsProvider
	started    time.Time
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(instanceID string, stats *Stats, queue QueueStatsProvider) *AdminHandlers {
	return &AdminHandlers{
		instanceID: instanceID,
		stats:      stats,
		queue:      queue,
		started:    time.Now(),
	}
}

// handleHealth reports liveness
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"healthy":        true,
		"instance_id":    h.instanceID,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}, false, "")
}

// handleStats returns totals across all tables
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	totals := h.stats.Totals()

	response := map[string]interface{}{
		"instance_id": h.instanceID,
		"operations":  totals.Operations,
		"filtered":    totals.Filtered,
		"total":       totals.Total,
	}
	if h.queue != nil {
		response["queue_depth"] = h.queue.QueueDepth()
	}

	writeJSONResponse(w, response, false, "")
}

// handleTables lists per-table stats ordered by table name
func (h *AdminHandlers) handleTables(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	page, hasMore := h.stats.Tables(parseFrom(r), limit)

	lastKey := ""
	if hasMore && len(page) > 0 {
		lastKey = page[len(page)-1].Table
	}

	writeJSONResponse(w, page, hasMore, lastKey)
}

// handleTable returns stats for a single table
func (h *AdminHandlers) handleTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if table == "" {
		writeErrorResponse(w, http.StatusBadRequest, "table name is required")
		return
	}

	snap, ok := h.stats.Table(table)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("table '%s' not found", table))
		return
	}

	writeJSONResponse(w, snap, false, "")
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}

// parseFrom parses from parameter for pagination
func parseFrom(r *http.Request) string {
	return r.URL.Query().Get("from")
}
