package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/sipmon/internal/api"
	"github.com/hubenschmidt/sipmon/internal/dashboard"
	"github.com/hubenschmidt/sipmon/internal/models"
)

// deps carries the wired components into the local HTTP surface.
type deps struct {
	syncer *dashboard.Syncer
	client *api.Client
}

func newRouter(d deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/snapshot", d.handleSnapshot)
	r.Post("/api/refresh", d.handleRefresh)
	r.Get("/api/config", d.handleGetConfig)
	r.Post("/api/config", d.handleSaveConfig)
	r.Get("/api/events", d.handleEvents)
	r.Get("/api/call_history.csv", d.handleExportCSV)
	return r
}

// handleHealthz reports daemon liveness plus the monitor link state. The
// daemon itself is alive whenever it can answer, so this always returns
// 200; consumers inspect connection_state and auth_required.
func (d deps) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := d.syncer.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"connection_state": snap.ConnState,
		"auth_required":    snap.AuthRequired,
		"last_refresh":     snap.LastRefresh,
	})
}

func (d deps) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, presentSnapshot(d.syncer.Snapshot()))
}

// handleRefresh triggers an immediate refresh. Exceeding the shared
// limiter answers 429 rather than queueing, so a misbehaving caller
// cannot stack up fetches.
func (d deps) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !d.syncer.Limiter().Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "refresh rate limited"})
		return
	}
	if err := d.syncer.Refresh(r.Context()); err != nil {
		if api.IsUnauthorized(err) {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"auth_required": true,
				"error":         err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, presentSnapshot(d.syncer.Snapshot()))
}

func (d deps) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := d.syncer.Snapshot().Config
	if cfg == nil {
		cfg = models.ConfigMap{}
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (d deps) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var values models.ConfigMap
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	res, err := d.syncer.SaveConfig(r.Context(), values)
	if err != nil {
		var ve *api.ValidationError
		switch {
		case api.IsUnauthorized(err):
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"auth_required": true,
				"error":         err.Error(),
			})
		case errors.As(err, &ve):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":   ve.Message,
				"details": ve.Details,
			})
		default:
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleEvents streams dashboard snapshots over SSE: the current state
// immediately, then one frame per store update.
func (d deps) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSnapshotFrame(w, d.syncer.Snapshot())
	flusher.Flush()

	ch := d.syncer.Store().Subscribe()
	defer d.syncer.Store().Unsubscribe(ch)
	slog.Info("events client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			slog.Info("events client disconnected", "remote", r.RemoteAddr)
			return
		case snap := <-ch:
			writeSnapshotFrame(w, snap)
			flusher.Flush()
		}
	}
}

// handleExportCSV proxies the monitor's CSV export. The payload is
// buffered so upstream failures can still change the response status.
func (d deps) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := d.client.ExportCallHistoryCSV(r.Context(), &buf); err != nil {
		if api.IsUnauthorized(err) {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"auth_required": true,
				"error":         err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="call_history.csv"`)
	w.Write(buf.Bytes())
}

// presentSnapshot orders call history newest-first for display; the
// store keeps the monitor's arrival order.
func presentSnapshot(snap dashboard.Snapshot) dashboard.Snapshot {
	models.SortByStartDesc(snap.CallHistory)
	return snap
}

func writeSnapshotFrame(w http.ResponseWriter, snap dashboard.Snapshot) {
	data, err := json.Marshal(presentSnapshot(snap))
	if err != nil {
		slog.Error("marshal snapshot", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
