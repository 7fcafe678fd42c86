package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hubenschmidt/sipmon/internal/api"
	"github.com/hubenschmidt/sipmon/internal/metrics"
	"github.com/hubenschmidt/sipmon/internal/models"
	"github.com/hubenschmidt/sipmon/internal/stream"
)

// Syncer drives the store from both directions: explicit REST refreshes
// and the supervised event stream. A 401 on either path suspends all
// synchronization until the next successful Refresh.
type Syncer struct {
	client  *api.Client
	store   *Store
	limiter *rate.Limiter

	// Backoff overrides the stream reconnect schedule; the zero value
	// keeps the defaults. Set before Start.
	Backoff stream.Backoff

	mu        sync.Mutex
	cancel    context.CancelFunc
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	resume    chan struct{}
}

// NewSyncer builds a syncer around a monitor client. Refresh triggers
// (periodic and manual) share one limiter: one per second, burst of two.
func NewSyncer(client *api.Client) *Syncer {
	return &Syncer{
		client:  client,
		store:   NewStore(),
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		resume:  make(chan struct{}, 1),
	}
}

// Store exposes the underlying state store.
func (s *Syncer) Store() *Store {
	return s.store
}

// Client returns the monitor API client the syncer was built with.
func (s *Syncer) Client() *api.Client {
	return s.client
}

// Limiter is the shared refresh rate limiter. The poller waits on it; the
// local surface uses Allow to answer 429 instead of queueing.
func (s *Syncer) Limiter() *rate.Limiter {
	return s.limiter
}

// Snapshot returns a copy of the current dashboard state.
func (s *Syncer) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// AuthRequired reports whether synchronization is suspended pending
// re-authentication.
func (s *Syncer) AuthRequired() bool {
	return s.store.AuthRequired()
}

// Refresh fetches status, call history, logs, and config concurrently,
// plus metrics whose absence is tolerated, and commits them as one
// update. A 401 suspends synchronization and closes the stream; any
// other failure is recorded in the store while previous state stays
// visible.
func (s *Syncer) Refresh(ctx context.Context) error {
	start := time.Now()

	var (
		status  *models.StatusSnapshot
		history []models.CallHistoryEntry
		logs    []string
		cfg     models.ConfigMap
		agg     *models.MetricsSnapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		status, err = s.client.Status(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = s.client.CallHistory(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		logs, err = s.client.Logs(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		cfg, err = s.client.Config(gctx)
		return err
	})
	g.Go(func() error {
		m, err := s.client.Metrics(gctx)
		if err != nil {
			if api.IsUnauthorized(err) {
				return err
			}
			// Older monitors have no metrics endpoint; absence is fine.
			slog.Debug("metrics endpoint unavailable", "error", err)
			return nil
		}
		agg = m
		return nil
	})

	if err := g.Wait(); err != nil {
		if api.IsUnauthorized(err) {
			metrics.RefreshErrors.WithLabelValues("unauthorized").Inc()
			slog.Warn("refresh unauthorized, suspending synchronization")
			s.store.SetAuthRequired()
			s.closeStream()
			return err
		}
		metrics.RefreshErrors.WithLabelValues("transient").Inc()
		s.store.SetError(err.Error())
		return err
	}

	s.store.ApplyRefresh(status, history, agg, cfg, logs)
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	s.signalResume()
	return nil
}

// SaveResult is the outcome of a configuration save: the monitor's reload
// descriptor plus a composed user-facing message.
type SaveResult struct {
	Status        string `json:"status"`
	ActiveCalls   int    `json:"active_calls"`
	ServerMessage string `json:"server_message,omitempty"`
	Message       string `json:"message"`
}

// SaveConfig posts the full configuration map. On success it refreshes to
// reconcile server-applied state and returns the reload outcome. Unlike
// Refresh, errors propagate to the caller: auth failures (which also
// suspend synchronization), validation rejections, and transient
// failures all return without touching dashboard state.
func (s *Syncer) SaveConfig(ctx context.Context, values models.ConfigMap) (*SaveResult, error) {
	reload, err := s.client.UpdateConfig(ctx, values)
	if err != nil {
		if api.IsUnauthorized(err) {
			s.store.SetAuthRequired()
			s.closeStream()
		}
		return nil, err
	}

	res := newSaveResult(reload)
	metrics.ConfigSaves.WithLabelValues(res.Status).Inc()

	if err := s.Refresh(ctx); err != nil {
		// The save itself succeeded; the refresh failure is already
		// recorded in the store.
		slog.Warn("refresh after config save failed", "error", err)
	}
	return res, nil
}

func newSaveResult(reload *models.ReloadStatus) *SaveResult {
	if reload == nil {
		return &SaveResult{
			Status:  models.ReloadNoop,
			Message: "Configuration saved.",
		}
	}

	res := &SaveResult{
		Status:        reload.Status,
		ActiveCalls:   reload.ActiveCalls,
		ServerMessage: reload.Message,
	}
	switch reload.Status {
	case models.ReloadRestarting:
		res.Message = "Configuration saved. The agent is restarting to apply the changes."
	case models.ReloadWaitingForCalls:
		if reload.ActiveCalls == 1 {
			res.Message = "Configuration saved. The agent will restart after the active call ends."
		} else {
			res.Message = fmt.Sprintf("Configuration saved. The agent will restart after %d active calls end.", reload.ActiveCalls)
		}
	case models.ReloadNoop:
		res.Message = "Configuration saved. No restart was needed."
	case models.ReloadError:
		res.Message = "Configuration saved, but the reload failed."
		if reload.Message != "" {
			res.Message = "Configuration saved, but the reload failed: " + reload.Message
		}
	default:
		res.Message = "Configuration saved."
	}
	return res
}

// Start launches the stream supervisor. It returns immediately; Close
// tears everything down.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.superviseStream(sctx)
	}()
}

// Close cancels the stream, waits for the supervisor to exit, and seals
// the store so late fetch results are discarded.
func (s *Syncer) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.store.Close()
}

// superviseStream keeps exactly one stream alive. Each Run is a connect
// cycle with its own cancel handle so a REST 401 can force-close the
// socket; an auth result parks the loop until a successful refresh
// signals resume.
func (s *Syncer) superviseStream(ctx context.Context) {
	for ctx.Err() == nil {
		if s.store.AuthRequired() {
			select {
			case <-ctx.Done():
				return
			case <-s.resume:
			}
			continue
		}

		m := stream.New(s.client.EventsURL(), s.client.Jar(), s.store.ApplyEvent, s.onStreamState)
		m.Backoff = s.Backoff

		runCtx, cancel := context.WithCancel(ctx)
		s.setRunCancel(cancel)
		err := m.Run(runCtx)
		cancel()
		s.setRunCancel(nil)

		if err != nil && api.IsUnauthorized(err) {
			slog.Warn("event stream rejected session, suspending synchronization")
			s.store.SetAuthRequired()
		}
	}
}

func (s *Syncer) onStreamState(state stream.State) {
	if state == stream.StateRetrying {
		metrics.StreamReconnects.Inc()
	}
	s.store.SetConnState(state)
}

func (s *Syncer) setRunCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.runCancel = cancel
	s.mu.Unlock()
}

func (s *Syncer) closeStream() {
	s.mu.Lock()
	cancel := s.runCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Syncer) signalResume() {
	select {
	case s.resume <- struct{}{}:
	default:
	}
}
