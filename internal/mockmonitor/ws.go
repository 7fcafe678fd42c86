package mockmonitor

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/sipmon/internal/models"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPingPeriod     = 20 * time.Second
	subscriberBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventHub fans marshalled frames out to connected subscribers. A
// subscriber that stops draining its queue is dropped so one stuck
// reader cannot hold back the rest; its socket simply goes quiet until
// the client disconnects.
type eventHub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan []byte]struct{})}
}

func (h *eventHub) subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *eventHub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- frame:
		default:
			delete(h.subs, ch)
		}
	}
}

// handleEvents upgrades the connection, closes it with 4401 when the
// session is missing, and otherwise replays the full state before
// streaming live events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	authorized := s.authorized(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()
	s.wsConnects.Add(1)

	if !authorized {
		msg := websocket.FormatCloseMessage(models.CloseUnauthorized, "authentication required")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		return
	}

	// Subscribe before snapshotting so nothing emitted in between is
	// lost; replacement semantics make any overlap harmless.
	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	for _, frame := range s.greetingFrames() {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	slog.Info("events client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			slog.Info("events client disconnected", "remote", r.RemoteAddr)
			return
		case frame := <-ch:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// greetingFrames renders the initial state replay: status, call history,
// metrics, then the full log batch.
func (s *Server) greetingFrames() [][]byte {
	s.mu.Lock()
	events := []models.Event{
		models.StatusEvent{Status: s.statusLocked()},
		models.CallHistoryEvent{Entries: s.historyLocked()},
		models.MetricsEvent{Metrics: s.metricsLocked()},
		models.LogsEvent{Lines: s.logsLocked()},
	}
	s.mu.Unlock()

	frames := make([][]byte, 0, len(events))
	for _, ev := range events {
		frame, err := models.MarshalEvent(ev)
		if err != nil {
			slog.Error("marshal greeting event", "type", ev.Type(), "error", err)
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}
