// Command sipmon is a headless dashboard daemon for the SIP voice
// agent's monitor: it keeps a live copy of the monitor's state via REST
// polling and the /ws/events stream, and serves it to local consumers
// over a small HTTP surface with SSE push and Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/hubenschmidt/sipmon/internal/api"
	"github.com/hubenschmidt/sipmon/internal/dashboard"
	"github.com/hubenschmidt/sipmon/internal/stream"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.slogLevel()})))

	client, err := api.NewClient(cfg.MonitorURL)
	if err != nil {
		slog.Error("monitor client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := waitForMonitor(ctx, client, cfg.BootAttempts); err != nil {
		slog.Warn("monitor not reachable, starting anyway", "error", err)
	}

	if cfg.Username != "" {
		if err := client.Login(ctx, cfg.Username, cfg.Password); err != nil {
			if api.IsUnauthorized(err) {
				slog.Error("monitor rejected credentials", "error", err)
				os.Exit(1)
			}
			slog.Warn("login failed, continuing unauthenticated", "error", err)
		}
	}

	syncer := dashboard.NewSyncer(client)
	if err := syncer.Refresh(ctx); err != nil {
		slog.Warn("initial refresh failed", "error", err)
	}
	if !cfg.NoStream {
		syncer.Start(ctx)
	}

	if cfg.PollInterval > 0 {
		poller := dashboard.NewPoller(syncer, cfg.PollInterval)
		if cfg.Username != "" {
			poller.Relogin = func(ctx context.Context) error {
				return client.Login(ctx, cfg.Username, cfg.Password)
			}
		}
		go poller.Run(ctx)
	}

	srv := &http.Server{Addr: cfg.Listen, Handler: newRouter(deps{syncer: syncer, client: client})}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		cancel()
	}()

	slog.Info("sipmon starting", "listen", cfg.Listen, "monitor", cfg.MonitorURL, "poll_interval", cfg.PollInterval.String())

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	syncer.Close()
	slog.Info("sipmon stopped")
}

// waitForMonitor probes /healthz until the monitor answers, using the
// same capped exponential schedule as stream reconnects. A degraded
// monitor is still reachable, so only transport failures keep probing.
func waitForMonitor(ctx context.Context, client *api.Client, attempts uint) error {
	if attempts == 0 {
		return nil
	}
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return stream.DelayForAttempt(n, stream.DefaultBase, stream.DefaultMax)
		}),
	)
	return r.Do(func() error {
		probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
		defer probeCancel()
		h, err := client.Healthz(probeCtx)
		if err != nil {
			slog.Warn("monitor not ready", "error", err)
			return err
		}
		if !h.OK() {
			slog.Warn("monitor degraded", "realtime_ws_state", h.RealtimeWSState, "sip_registered", h.SIPRegistered)
		}
		return nil
	})
}
