// Package mockmonitor is an in-process stand-in for the SIP voice agent's
// monitor backend. It serves the same REST endpoints, session cookie
// handshake, and /ws/events stream as the real agent so the dashboard can
// be developed and tested without a softphone stack. State is mutated
// through exported methods; every mutation is pushed to connected
// WebSocket subscribers.
package mockmonitor

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hubenschmidt/sipmon/internal/models"
)

// Config carries the knobs for a mock server instance. Zero values fall
// back to the agent's defaults: admin/admin credentials, a 100-line log
// ring, and 24h sessions.
type Config struct {
	Username   string
	Password   string
	MaxLogs    int
	SessionTTL time.Duration
}

// Server holds the simulated agent state and implements http.Handler.
type Server struct {
	cfg Config
	mux *http.ServeMux
	hub *eventHub

	forceUnauthorized atomic.Bool
	wsConnects        atomic.Int64

	mu             sync.Mutex
	sessions       map[string]time.Time
	config         models.ConfigMap
	registered     bool
	active         []string
	history        []models.CallHistoryEntry
	logs           []string
	tokens         int64
	totalCalls     int64
	regRetries     int64
	inviteRetries  int64
	audioEvents    map[string]int64
	latencies      []float64
	realtimeState  string
	realtimeDetail string
	lastWSEvent    float64
	reloadPending  bool
}

// New returns a mock monitor with default configuration and no calls.
func New(cfg Config) *Server {
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
	if cfg.Password == "" {
		cfg.Password = "admin"
	}
	if cfg.MaxLogs <= 0 {
		cfg.MaxLogs = 100
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	s := &Server{
		cfg:           cfg,
		hub:           newEventHub(),
		sessions:      make(map[string]time.Time),
		config:        defaultConfig(),
		audioEvents:   make(map[string]int64),
		realtimeState: models.RealtimeUnknown,
	}
	s.mux = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// SetRegistered flips the simulated SIP registration state.
func (s *Server) SetRegistered(registered bool) {
	s.mu.Lock()
	s.registered = registered
	s.mu.Unlock()
	state := "registered"
	if !registered {
		state = "unregistered"
	}
	s.logf("info", "SIP registration state changed: %s", state)
	s.broadcastStatus()
	s.broadcastMetrics()
}

// StartCall opens a synthetic call and appends it to the history.
func (s *Server) StartCall(callID, correlationID string) {
	s.mu.Lock()
	s.active = append(s.active, callID)
	s.history = append(s.history, models.CallHistoryEntry{
		CallID:        callID,
		CorrelationID: correlationID,
		Start:         epochNow(),
	})
	s.totalCalls++
	s.mu.Unlock()
	s.logf("info", "New call: %s", callID)
	s.broadcastStatus()
	s.broadcastMetrics()
}

// EndCall closes an active call and, when a reload is pending and no
// calls remain, performs the deferred restart.
func (s *Server) EndCall(callID string) {
	now := epochNow()
	s.mu.Lock()
	for i, id := range s.active {
		if id == callID {
			s.active = append(s.active[:i], s.active[i+1:]...)
			break
		}
	}
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].CallID == callID && s.history[i].End == nil {
			end := now
			s.history[i].End = &end
			break
		}
	}
	restart := s.reloadPending && len(s.active) == 0
	if restart {
		s.reloadPending = false
	}
	s.mu.Unlock()
	s.logf("info", "Call ended: %s", callID)
	if restart {
		s.logf("info", "Agent restarted to apply configuration changes")
	}
	s.broadcastStatus()
	s.broadcastMetrics()
}

// AddTokens accounts OpenAI token usage against a call.
func (s *Server) AddTokens(n int64, callID string) {
	s.mu.Lock()
	s.tokens += n
	total := s.tokens
	s.mu.Unlock()
	s.logf("info", "API usage for call %s: +%d tokens (total %d)", callID, n, total)
	s.broadcastStatus()
	s.broadcastMetrics()
}

// SetRealtime updates the simulated realtime channel health.
func (s *Server) SetRealtime(healthy bool, detail string) {
	state := models.RealtimeHealthy
	if !healthy {
		state = models.RealtimeUnhealthy
	}
	s.mu.Lock()
	s.realtimeState = state
	s.realtimeDetail = detail
	s.lastWSEvent = epochNow()
	s.mu.Unlock()
	s.logf("info", "Realtime channel is %s", state)
	s.broadcastStatus()
	s.broadcastMetrics()
}

// RecordAudioEvent bumps a named audio pipeline counter.
func (s *Server) RecordAudioEvent(name string) {
	s.mu.Lock()
	s.audioEvents[name]++
	s.mu.Unlock()
	s.logf("debug", "Audio pipeline event: %s", name)
	s.broadcastMetrics()
}

// RecordRegisterRetry bumps the REGISTER retry counter.
func (s *Server) RecordRegisterRetry() {
	s.mu.Lock()
	s.regRetries++
	s.mu.Unlock()
	s.logf("warning", "REGISTER retry scheduled")
	s.broadcastMetrics()
}

// RecordInviteRetry bumps the INVITE retry counter.
func (s *Server) RecordInviteRetry() {
	s.mu.Lock()
	s.inviteRetries++
	s.mu.Unlock()
	s.logf("warning", "INVITE retry scheduled")
	s.broadcastMetrics()
}

// RecordLatency adds a response latency sample in seconds.
func (s *Server) RecordLatency(seconds float64) {
	s.mu.Lock()
	s.latencies = append(s.latencies, seconds)
	s.mu.Unlock()
	s.broadcastMetrics()
}

// AddLog appends a rendered log line to the ring and streams it out.
func (s *Server) AddLog(level, message string) {
	line := fmt.Sprintf("[%s] [%s] %s",
		time.Now().Format("2006-01-02 15:04:05"), strings.ToUpper(level), message)
	s.mu.Lock()
	s.logs = append(s.logs, line)
	s.trimLogsLocked()
	s.mu.Unlock()
	s.emit(models.LogEvent{Line: line})
}

func (s *Server) logf(level, format string, args ...any) {
	s.AddLog(level, fmt.Sprintf(format, args...))
}

// ForceUnauthorized makes every session-gated endpoint answer 401 while
// enabled, regardless of cookies. Login stays functional so tests can
// exercise expiry and recovery separately.
func (s *Server) ForceUnauthorized(on bool) {
	s.forceUnauthorized.Store(on)
}

// RevokeSessions drops all issued sessions, simulating server-side expiry.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	s.sessions = make(map[string]time.Time)
	s.mu.Unlock()
}

// EventsConnections reports how many /ws/events upgrades the server has
// accepted, including ones closed for missing auth.
func (s *Server) EventsConnections() int64 {
	return s.wsConnects.Load()
}

// Status returns the current status snapshot.
func (s *Server) Status() models.StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// History returns the call history in arrival order.
func (s *Server) History() []models.CallHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

// Logs returns the rendered log ring, oldest first.
func (s *Server) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logsLocked()
}

// Config returns a copy of the simulated environment configuration.
func (s *Server) Config() models.ConfigMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// Metrics returns the aggregate metrics snapshot.
func (s *Server) Metrics() models.MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsLocked()
}

func (s *Server) statusLocked() models.StatusSnapshot {
	active := make([]string, len(s.active))
	copy(active, s.active)
	return models.StatusSnapshot{
		SIPRegistered:    s.registered,
		ActiveCalls:      active,
		APITokensUsed:    s.tokens,
		RealtimeWSState:  s.realtimeState,
		RealtimeWSDetail: s.realtimeDetail,
	}
}

func (s *Server) historyLocked() []models.CallHistoryEntry {
	out := make([]models.CallHistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Server) logsLocked() []string {
	out := make([]string, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Server) metricsLocked() models.MetricsSnapshot {
	events := make(map[string]int64, len(s.audioEvents))
	for k, v := range s.audioEvents {
		events[k] = v
	}
	return models.MetricsSnapshot{
		ActiveCalls:         len(s.active),
		TotalCalls:          s.totalCalls,
		TokenUsageTotal:     s.tokens,
		LatencySeconds:      latencyPercentiles(s.latencies),
		RegisterRetries:     s.regRetries,
		InviteRetries:       s.inviteRetries,
		AudioPipelineEvents: events,
	}
}

func (s *Server) healthLocked() (models.Health, int) {
	h := models.Health{
		SIPRegistered:    s.registered,
		RealtimeWSState:  s.realtimeState,
		RealtimeWSDetail: s.realtimeDetail,
		ActiveCalls:      len(s.active),
	}
	if s.lastWSEvent > 0 {
		ts := s.lastWSEvent
		h.LastWSEventTS = &ts
	}
	if s.registered && s.realtimeState != models.RealtimeUnhealthy {
		h.Status = "ok"
		return h, http.StatusOK
	}
	h.Status = "degraded"
	return h, http.StatusServiceUnavailable
}

func (s *Server) trimLogsLocked() {
	if len(s.logs) > s.cfg.MaxLogs {
		s.logs = s.logs[len(s.logs)-s.cfg.MaxLogs:]
	}
}

func (s *Server) broadcastStatus() {
	s.mu.Lock()
	status := s.statusLocked()
	history := s.historyLocked()
	s.mu.Unlock()
	s.emit(models.StatusEvent{Status: status})
	s.emit(models.CallHistoryEvent{Entries: history})
}

func (s *Server) broadcastMetrics() {
	s.mu.Lock()
	m := s.metricsLocked()
	s.mu.Unlock()
	s.emit(models.MetricsEvent{Metrics: m})
}

func (s *Server) emit(ev models.Event) {
	frame, err := models.MarshalEvent(ev)
	if err != nil {
		slog.Error("marshal event", "type", ev.Type(), "error", err)
		return
	}
	s.hub.broadcast(frame)
}

// latencyPercentiles interpolates p50/p90/p95/p99 from raw samples. The
// map is empty until the first sample arrives.
func latencyPercentiles(samples []float64) map[string]float64 {
	out := make(map[string]float64, 4)
	if len(samples) == 0 {
		return out
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	for _, pct := range []float64{50, 90, 95, 99} {
		out[fmt.Sprintf("p%.0f", pct)] = percentile(sorted, pct)
	}
	return out
}

func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := float64(len(sorted)-1) * (pct / 100)
	low := int(math.Floor(rank))
	high := int(math.Ceil(rank))
	if low == high {
		return sorted[low]
	}
	return sorted[low] + (sorted[high]-sorted[low])*(rank-float64(low))
}

func epochNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
