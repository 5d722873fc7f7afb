// ABOUTME: Operator HTTP API for the gateway
// ABOUTME: Reports session outcome counts and recent outcomes from the store

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/whatsapp-bridge/internal/auth"
)

// SessionStatsResponse is the JSON response for GET /api/stats/sessions.
type SessionStatsResponse struct {
	Since  string                   `json:"since"`
	Total  int                      `json:"total"`
	Counts map[string]int           `json:"counts"`
	Recent []SessionOutcomeResponse `json:"recent"`
}

// SessionOutcomeResponse is one recent outcome in SessionStatsResponse.
type SessionOutcomeResponse struct {
	ID          string `json:"id"`
	MessageID   string `json:"message_id"`
	SenderID    string `json:"sender_id"`
	Kind        string `json:"kind"`
	Outcome     string `json:"outcome"`
	ReplyLength int    `json:"reply_length"`
	DurationMS  int64  `json:"duration_ms"`
	CreatedAt   string `json:"created_at"`
}

// handleSessionStats handles GET /api/stats/sessions.
// Supports optional ?since=<RFC3339> (default 24h ago) and ?limit=N (default 20, max 100).
func (g *Gateway) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if g.store == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "outcome recording is disabled (set database.path)")
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = parsed
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, 100)
	}

	counts, err := g.store.CountOutcomes(r.Context(), since)
	if err != nil {
		g.logger.Error("failed to count outcomes", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	recent, err := g.store.ListOutcomes(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list outcomes", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := SessionStatsResponse{
		Since:  since.UTC().Format(time.RFC3339),
		Counts: counts,
		Recent: make([]SessionOutcomeResponse, len(recent)),
	}
	for _, n := range counts {
		response.Total += n
	}
	for i, o := range recent {
		response.Recent[i] = SessionOutcomeResponse{
			ID:          o.ID,
			MessageID:   o.MessageID,
			SenderID:    o.SenderID,
			Kind:        o.Kind,
			Outcome:     o.Outcome,
			ReplyLength: o.ReplyLength,
			DurationMS:  o.Duration.Milliseconds(),
			CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	g.logger.Debug("session stats served",
		"subject", auth.SubjectFromContext(r.Context()),
		"total", response.Total,
		"recent", len(response.Recent),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
