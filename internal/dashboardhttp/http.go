// Package dashboardhttp exposes internal/dashboard.Bridge as the net/http
// JSON contract described in spec.md §6 ("Dashboard endpoints"), following
// the teacher's writeJSON/Register(mux) handler shape
// (telemetry/state-ingest/pkg/server.Handler).
package dashboardhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/helmcam/coordinator/internal/dashboard"
)

// Handler adapts a dashboard.Bridge to net/http.
type Handler struct {
	bridge  *dashboard.Bridge
	log     *slog.Logger
	baseCtx context.Context
}

// NewHandler builds a Handler around bridge. baseCtx is used for any work the
// bridge spawns that must outlive the triggering request (CaptureSequence's
// paced ticks, CaptureSingle) — net/http cancels a request's own Context as
// soon as its handler returns, which would otherwise cut a multi-tick
// sequence off after its first tick. baseCtx should be the server's own
// lifetime context (canceled on shutdown), not context.Background(), so
// spawned work still stops when the process does. If baseCtx is nil,
// context.Background() is used.
func NewHandler(bridge *dashboard.Bridge, log *slog.Logger, baseCtx context.Context) *Handler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handler{bridge: bridge, log: log, baseCtx: baseCtx}
}

// Register wires every endpoint from spec.md §6 onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/status", h.statusHandler)
	mux.HandleFunc("/peers", h.peersHandler)
	mux.HandleFunc("/command", h.commandHandler)
	mux.HandleFunc("/single_capture", h.singleCaptureHandler)
	mux.HandleFunc("/triggers_status", h.triggersStatusHandler)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeJSONError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// statusHandler answers "GET status" (spec.md §6).
func (h *Handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.writeJSON(w, http.StatusOK, h.bridge.Status())
}

// peersHandler answers "GET peers": PeerStats map + rollup counts
// (spec.md §6).
func (h *Handler) peersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := h.bridge.Status()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"peers":  snap.Peers,
		"rollup": snap.Rollup,
	})
}

type commandRequest struct {
	Count    int `json:"count"`
	Interval int `json:"interval"` // milliseconds
}

// commandHandler answers "POST command {count, interval}" (spec.md §6).
func (h *Handler) commandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Count <= 0 {
		h.writeJSONError(w, http.StatusBadRequest, "count must be positive")
		return
	}

	reqID := uuid.New()
	h.log.Info("web command request", "request_id", reqID, "count", req.Count, "interval_ms", req.Interval)

	// Paced ticks run past this handler's return, so they must not inherit
	// r.Context(): net/http cancels it the moment commandHandler returns,
	// which would truncate any count > 1 sequence to its first tick.
	interval := time.Duration(req.Interval) * time.Millisecond
	h.bridge.CaptureSequence(h.baseCtx, req.Count, interval)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "started",
		"count":      req.Count,
		"interval":   req.Interval,
		"request_id": reqID,
	})
}

// singleCaptureHandler answers "POST single_capture" (spec.md §6).
func (h *Handler) singleCaptureHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reqID := uuid.New()
	h.log.Info("web single-capture request", "request_id", reqID)

	// enqueue can block on a full capture queue past this handler's return,
	// so it must not be tied to r.Context() either (see commandHandler).
	h.bridge.CaptureSingle(h.baseCtx)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "started", "request_id": reqID.String()})
}

// triggersStatusHandler answers "GET triggers_status" (spec.md §6).
func (h *Handler) triggersStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.writeJSON(w, http.StatusOK, h.bridge.TriggersStatus())
}
