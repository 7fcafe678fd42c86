package models

import "sort"

// Realtime channel states reported by the monitor. "Realtime channel" is
// the backend's live audio/LLM streaming link, independent of the
// dashboard's own WebSocket.
const (
	RealtimeHealthy   = "healthy"
	RealtimeUnhealthy = "unhealthy"
	RealtimeUnknown   = "unknown"
)

// StatusSnapshot is the monitor's registration and realtime-channel state.
// It is always replaced wholesale, never merged field by field.
type StatusSnapshot struct {
	SIPRegistered    bool     `json:"sip_registered"`
	ActiveCalls      []string `json:"active_calls"`
	APITokensUsed    int64    `json:"api_tokens_used"`
	RealtimeWSState  string   `json:"realtime_ws_state"`
	RealtimeWSDetail string   `json:"realtime_ws_detail,omitempty"`
}

// CallHistoryEntry is one call record. End is nil while the call is still
// active.
type CallHistoryEntry struct {
	CallID        string   `json:"call_id"`
	Start         float64  `json:"start"`
	End           *float64 `json:"end"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// Active reports whether the call has not yet ended.
func (e CallHistoryEntry) Active() bool {
	return e.End == nil
}

// Duration returns the call duration in seconds, or 0 for active calls.
func (e CallHistoryEntry) Duration() float64 {
	if e.End == nil {
		return 0
	}
	return *e.End - e.Start
}

// SortByStartDesc orders entries newest-first for display. The stored
// collection keeps the server's arrival order; callers sort a copy.
func SortByStartDesc(entries []CallHistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start > entries[j].Start
	})
}

// MetricsSnapshot mirrors the monitor's aggregate metrics payload.
type MetricsSnapshot struct {
	ActiveCalls         int                `json:"active_calls"`
	TotalCalls          int64              `json:"total_calls"`
	TokenUsageTotal     int64              `json:"token_usage_total"`
	LatencySeconds      map[string]float64 `json:"latency_seconds"`
	RegisterRetries     int64              `json:"register_retries"`
	InviteRetries       int64              `json:"invite_retries"`
	AudioPipelineEvents map[string]int64   `json:"audio_pipeline_events"`
}

// ConfigMap is the monitor's environment configuration as served by
// GET /api/config and accepted by POST /api/update_config. Values are
// strings on the wire; the server owns typing and validation.
type ConfigMap map[string]string

// Clone returns an independent copy of the map.
func (c ConfigMap) Clone() ConfigMap {
	if c == nil {
		return nil
	}
	out := make(ConfigMap, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Reload outcomes reported after a configuration save.
const (
	ReloadRestarting      = "restarting"
	ReloadWaitingForCalls = "waiting_for_calls"
	ReloadNoop            = "noop"
	ReloadError           = "error"
)

// ReloadStatus is the server-reported outcome of applying a configuration
// change: immediate restart, deferred until active calls end, no-op, or
// error.
type ReloadStatus struct {
	Status      string `json:"status"`
	ActiveCalls int    `json:"active_calls"`
	Message     string `json:"message"`
}

// UpdateConfigResponse is the POST /api/update_config response body. On
// validation failure Success is false and Error/Details describe the
// rejected values.
type UpdateConfigResponse struct {
	Success bool          `json:"success"`
	Reload  *ReloadStatus `json:"reload,omitempty"`
	Error   string        `json:"error,omitempty"`
	Details []string      `json:"details,omitempty"`
}

// Health is the GET /healthz payload. The endpoint answers 200 for "ok"
// and 503 for "degraded".
type Health struct {
	Status           string   `json:"status"`
	SIPRegistered    bool     `json:"sip_registered"`
	RealtimeWSState  string   `json:"realtime_ws_state"`
	RealtimeWSDetail string   `json:"realtime_ws_detail,omitempty"`
	ActiveCalls      int      `json:"active_calls"`
	LastWSEventTS    *float64 `json:"last_ws_event_ts"`
}

// OK reports whether the monitor considers itself healthy.
func (h *Health) OK() bool {
	return h != nil && h.Status == "ok"
}
