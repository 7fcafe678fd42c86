// Package stream maintains the dashboard's WebSocket subscription to the
// monitor's /ws/events feed: one live connection at a time, serialized
// reconnect attempts with capped exponential backoff, and authentication
// failures reported distinctly so the owner can suspend reconnection.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/sipmon/internal/api"
	"github.com/hubenschmidt/sipmon/internal/models"
)

// State is the connection state visible to dashboard consumers.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateRetrying   State = "retrying"
	StateClosed     State = "closed"
)

// Manager owns one event-stream connection. Callbacks run on the
// manager's goroutine; they must not block.
type Manager struct {
	url     string
	dialer  *websocket.Dialer
	onEvent func(models.Event)
	onState func(State)

	// Backoff may be overridden before Run (tests use short delays).
	Backoff Backoff
}

// New builds a manager for the given ws(s):// URL. The jar supplies the
// monitor session cookie so the handshake is credentialed like REST
// calls. Either callback may be nil.
func New(url string, jar http.CookieJar, onEvent func(models.Event), onState func(State)) *Manager {
	return &Manager{
		url: url,
		dialer: &websocket.Dialer{
			Jar:              jar,
			HandshakeTimeout: 10 * time.Second,
		},
		onEvent: onEvent,
		onState: onState,
	}
}

// Run connects and consumes events until ctx is cancelled, reconnecting
// after failures with the backoff schedule. It returns nil on
// cancellation and *api.UnauthorizedError when the monitor rejects the
// session (HTTP 401 handshake or close code 4401); in that case the owner
// must not call Run again until a successful refresh re-establishes
// credentials.
func (m *Manager) Run(ctx context.Context) error {
	bo := m.Backoff
	m.setState(StateConnecting)
	defer m.setState(StateClosed)

	for {
		conn, err := m.dial(ctx)
		if err != nil {
			if api.IsUnauthorized(err) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("event stream dial failed", "url", m.url, "error", err)
		} else {
			bo.Reset()
			m.setState(StateOpen)
			slog.Info("event stream connected", "url", m.url)

			err = m.readLoop(ctx, conn)
			if websocket.IsCloseError(err, models.CloseUnauthorized) {
				return &api.UnauthorizedError{URL: m.url}
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("event stream closed", "error", err)
		}

		m.setState(StateRetrying)
		delay := bo.Next()
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &api.UnauthorizedError{URL: m.url}
		}
		return nil, fmt.Errorf("dial %s: %w", m.url, err)
	}
	return conn, nil
}

// readLoop decodes frames until the connection dies. Malformed frames are
// logged and dropped; unknown event types are silently skipped. The
// returned error is the read failure that ended the connection.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := models.ParseEvent(data)
		if err != nil {
			slog.Warn("discarding malformed event frame", "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		if m.onEvent != nil {
			m.onEvent(ev)
		}
	}
}

func (m *Manager) setState(s State) {
	if m.onState != nil {
		m.onState(s)
	}
}
