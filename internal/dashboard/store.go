// Package dashboard is the authority for monitor state: it reconciles
// REST snapshots with the live event stream, tracks the connection state
// machine, and exposes read-only copies to consumers. REST and stream
// updates only ever replace whole entities, so concurrent writers need no
// coordination beyond the store lock (last write wins; both channels
// carry the same server truth).
package dashboard

import (
	"sync"
	"time"

	"github.com/hubenschmidt/sipmon/internal/metrics"
	"github.com/hubenschmidt/sipmon/internal/models"
	"github.com/hubenschmidt/sipmon/internal/stream"
)

// LogBufferCap bounds the in-memory log buffer; the oldest lines are
// evicted first.
const LogBufferCap = 200

// Snapshot is a self-contained copy of the dashboard state, safe to hold
// after the store moves on.
type Snapshot struct {
	Status       *models.StatusSnapshot    `json:"status"`
	CallHistory  []models.CallHistoryEntry `json:"call_history"`
	Metrics      *models.MetricsSnapshot   `json:"metrics,omitempty"`
	Config       models.ConfigMap          `json:"config"`
	Logs         []string                  `json:"logs"`
	ConnState    stream.State              `json:"connection_state"`
	Err          string                    `json:"error,omitempty"`
	AuthRequired bool                      `json:"auth_required"`
	LastRefresh  time.Time                 `json:"last_refresh"`
}

// Store holds the dashboard state behind one mutex. Every mutation is a
// single critical section, so readers never observe a half-applied
// refresh. A closed store refuses further commits: in-flight fetches that
// resolve after teardown are discarded.
type Store struct {
	mu     sync.Mutex
	closed bool

	status       *models.StatusSnapshot
	callHistory  []models.CallHistoryEntry
	metrics      *models.MetricsSnapshot
	config       models.ConfigMap
	logs         []string
	connState    stream.State
	errMsg       string
	authRequired bool
	lastRefresh  time.Time

	hub hub
}

// NewStore returns an empty store in the connecting state.
func NewStore() *Store {
	return &Store{connState: stream.StateConnecting}
}

// ApplyRefresh commits a full REST snapshot: all entities are replaced
// together and the error/auth flags are cleared.
func (s *Store) ApplyRefresh(status *models.StatusSnapshot, history []models.CallHistoryEntry, m *models.MetricsSnapshot, cfg models.ConfigMap, logs []string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.callHistory = history
	s.metrics = m
	s.config = cfg
	s.logs = capLogs(logs)
	s.errMsg = ""
	s.authRequired = false
	s.lastRefresh = time.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	metrics.LogBufferLength.Set(float64(len(snap.Logs)))
	s.hub.broadcast(snap)
}

// ApplyEvent folds one stream event into the state. Entities are replaced
// wholesale; single log lines append and evict past the cap.
func (s *Store) ApplyEvent(ev models.Event) {
	if ev == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	switch e := ev.(type) {
	case models.StatusEvent:
		status := e.Status
		s.status = &status
	case models.CallHistoryEvent:
		s.callHistory = e.Entries
	case models.MetricsEvent:
		m := e.Metrics
		s.metrics = &m
	case models.LogsEvent:
		s.logs = capLogs(e.Lines)
	case models.LogEvent:
		s.logs = append(s.logs, e.Line)
		if len(s.logs) > LogBufferCap {
			s.logs = s.logs[len(s.logs)-LogBufferCap:]
		}
	default:
		s.mu.Unlock()
		return
	}
	logLen := len(s.logs)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	metrics.EventsReceived.WithLabelValues(ev.Type()).Inc()
	metrics.LogBufferLength.Set(float64(logLen))
	s.hub.broadcast(snap)
}

// SetError records a transient failure message. Previously loaded state
// stays visible (stale-but-available).
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.errMsg = msg
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.hub.broadcast(snap)
}

// SetAuthRequired flips the auth side-channel. Loaded state is kept; only
// a successful refresh clears the flag.
func (s *Store) SetAuthRequired() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.authRequired = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.hub.broadcast(snap)
}

// AuthRequired reports whether synchronization is suspended.
func (s *Store) AuthRequired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authRequired
}

// SetConnState records the stream connection state.
func (s *Store) SetConnState(state stream.State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.connState = state
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if state == stream.StateOpen {
		metrics.StreamConnected.Set(1)
	} else {
		metrics.StreamConnected.Set(0)
	}
	s.hub.broadcast(snap)
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers for snapshot updates. Slow consumers miss
// intermediate snapshots rather than blocking writers. Callers must
// Unsubscribe when done.
func (s *Store) Subscribe() chan Snapshot {
	return s.hub.subscribe()
}

// Unsubscribe removes a subscriber channel.
func (s *Store) Unsubscribe(ch chan Snapshot) {
	s.hub.unsubscribe(ch)
}

// Close marks the store torn down; later commits are discarded.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Config:       s.config.Clone(),
		ConnState:    s.connState,
		Err:          s.errMsg,
		AuthRequired: s.authRequired,
		LastRefresh:  s.lastRefresh,
	}
	if s.status != nil {
		status := *s.status
		status.ActiveCalls = append([]string(nil), s.status.ActiveCalls...)
		snap.Status = &status
	}
	if s.callHistory != nil {
		snap.CallHistory = append([]models.CallHistoryEntry(nil), s.callHistory...)
	}
	if s.metrics != nil {
		m := *s.metrics
		m.LatencySeconds = cloneFloatMap(s.metrics.LatencySeconds)
		m.AudioPipelineEvents = cloneIntMap(s.metrics.AudioPipelineEvents)
		snap.Metrics = &m
	}
	if s.logs != nil {
		snap.Logs = append([]string(nil), s.logs...)
	}
	return snap
}

func capLogs(lines []string) []string {
	if len(lines) > LogBufferCap {
		lines = lines[len(lines)-LogBufferCap:]
	}
	return append([]string(nil), lines...)
}

func cloneFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneIntMap(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
