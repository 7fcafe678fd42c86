package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Poller refreshes the dashboard on a fixed interval. Ticks share the
// syncer's rate limiter with manual refreshes, and run behind a circuit
// breaker so a monitor that fails every request is probed instead of
// hammered. While synchronization is suspended for authentication the
// poller skips refreshing entirely, unless a Relogin hook is configured.
type Poller struct {
	syncer   *Syncer
	interval time.Duration
	breaker  *gobreaker.CircuitBreaker

	// Relogin, when set, is tried once per tick while synchronization is
	// suspended; on success the tick proceeds to refresh. Leave nil when
	// no credentials are configured.
	Relogin func(context.Context) error
}

// NewPoller wires a poller to a syncer. The breaker opens after six
// consecutive failed refreshes and probes again after 30 seconds.
func NewPoller(syncer *Syncer, interval time.Duration) *Poller {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "monitor-refresh",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("refresh breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Poller{syncer: syncer, interval: interval, breaker: breaker}
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p.tick(ctx)
	}
}

func (p *Poller) tick(ctx context.Context) {
	if p.syncer.AuthRequired() {
		if p.Relogin == nil {
			return
		}
		if err := p.Relogin(ctx); err != nil {
			slog.Warn("re-login failed", "error", err)
			return
		}
		slog.Info("re-login succeeded, resuming synchronization")
	}

	if err := p.syncer.Limiter().Wait(ctx); err != nil {
		return
	}

	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.syncer.Refresh(ctx)
	})
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		slog.Debug("periodic refresh skipped, breaker open")
	default:
		// Refresh already recorded the failure in the store.
		slog.Debug("periodic refresh failed", "error", err)
	}
}
