package mockmonitor

import (
	"crypto/subtle"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/sipmon/internal/models"
)

// sessionCookie names the admin session cookie, matching the agent.
const sessionCookie = "monitor_session"

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws/events", s.handleEvents)
	mux.HandleFunc("GET /api/status", s.protect(s.handleStatus))
	mux.HandleFunc("GET /api/call_history", s.protect(s.handleCallHistory))
	mux.HandleFunc("GET /api/call_history.csv", s.protect(s.handleCallHistoryCSV))
	mux.HandleFunc("GET /api/logs", s.protect(s.handleLogs))
	mux.HandleFunc("GET /api/config", s.protect(s.handleConfig))
	mux.HandleFunc("POST /api/update_config", s.protect(s.handleUpdateConfig))
	mux.HandleFunc("GET /metrics", s.protect(s.handleMetrics))
	return mux
}

// protect rejects requests without a live admin session.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
			return
		}
		next(w, r)
	}
}

// authorized validates the session cookie and slides its expiry.
func (s *Server) authorized(r *http.Request) bool {
	if s.forceUnauthorized.Load() {
		return false
	}
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.sessions[c.Value]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.sessions, c.Value)
		return false
	}
	s.sessions[c.Value] = time.Now().Add(s.cfg.SessionTTL)
	return true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.Password)) == 1
	if !userOK || !passOK {
		slog.Warn("login rejected", "username", req.Username, "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = time.Now().Add(s.cfg.SessionTTL)
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.cfg.SessionTTL / time.Second),
	})
	s.logf("info", "Administrator session opened")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, c.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	health, code := s.healthLocked()
	s.mu.Unlock()
	writeJSON(w, code, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleCallHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.History())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"logs": s.Logs()})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Config())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Metrics())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var incoming map[string]string
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeJSON(w, http.StatusBadRequest, models.UpdateConfigResponse{
			Success: false,
			Error:   "invalid JSON body",
		})
		return
	}

	s.mu.Lock()
	merged := s.config.Clone()
	for _, key := range configKeys {
		if v, ok := incoming[key]; ok {
			merged[key] = v
		}
	}
	if details := validateConfig(merged); len(details) > 0 {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, models.UpdateConfigResponse{
			Success: false,
			Error:   "invalid configuration",
			Details: details,
		})
		return
	}
	var changed []string
	for _, key := range configKeys {
		if merged[key] != s.config[key] {
			changed = append(changed, key)
		}
	}
	s.config = merged
	var reload models.ReloadStatus
	if len(changed) == 0 {
		reload = models.ReloadStatus{
			Status:      models.ReloadNoop,
			ActiveCalls: len(s.active),
			Message:     "No changes detected; nothing to reload.",
		}
	} else {
		reload = s.scheduleReloadLocked()
	}
	s.mu.Unlock()

	if len(changed) > 0 {
		s.logf("info", "Configuration updated (%s)", strings.Join(changed, ", "))
	}
	switch reload.Status {
	case models.ReloadRestarting:
		s.logf("info", "Agent restarting to apply configuration changes")
	case models.ReloadWaitingForCalls:
		s.logf("info", "Reload deferred until %d active call(s) end", reload.ActiveCalls)
	}
	writeJSON(w, http.StatusOK, models.UpdateConfigResponse{Success: true, Reload: &reload})
}

// scheduleReloadLocked decides whether changed configuration restarts the
// agent now or waits for active calls to drain. Repeat requests while a
// reload is pending stay in waiting_for_calls.
func (s *Server) scheduleReloadLocked() models.ReloadStatus {
	n := len(s.active)
	if n > 0 {
		msg := fmt.Sprintf("Reload scheduled after %d active call(s) end.", n)
		if s.reloadPending {
			msg = fmt.Sprintf("Reload already scheduled; still waiting for %d active call(s).", n)
		}
		s.reloadPending = true
		return models.ReloadStatus{Status: models.ReloadWaitingForCalls, ActiveCalls: n, Message: msg}
	}
	s.reloadPending = false
	return models.ReloadStatus{
		Status:  models.ReloadRestarting,
		Message: "Agent is restarting to apply the new configuration.",
	}
}

func (s *Server) handleCallHistoryCSV(w http.ResponseWriter, r *http.Request) {
	entries := s.History()
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="call_history.csv"`)
	cw := csv.NewWriter(w)
	cw.Write([]string{"call_id", "correlation_id", "start", "end", "duration_seconds"})
	for _, e := range entries {
		var end, duration string
		if e.End != nil {
			end = strconv.FormatFloat(*e.End, 'f', -1, 64)
			duration = strconv.FormatFloat(e.Duration(), 'f', 1, 64)
		}
		cw.Write([]string{
			e.CallID,
			e.CorrelationID,
			strconv.FormatFloat(e.Start, 'f', -1, 64),
			end,
			duration,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Error("write call history csv", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
