// Command mockmonitor runs a standalone fake of the SIP voice agent's
// monitoring API for local dashboard development: the full REST surface,
// the /ws/events stream, and an optional traffic generator.
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

	"github.com/spf13/pflag"

	"github.com/hubenschmidt/sipmon/internal/env"
	"github.com/hubenschmidt/sipmon/internal/mockmonitor"
)

func main() {
	fs := pflag.NewFlagSet("mockmonitor", pflag.ContinueOnError)
	listen := fs.String("listen", env.Str("MOCKMON_LISTEN", ":8080"), "listen address")
	username := fs.String("username", env.Str("MOCKMON_USERNAME", "admin"), "login username")
	password := fs.String("password", env.Str("MOCKMON_PASSWORD", "admin"), "login password")
	maxLogs := fs.Int("max-logs", env.Int("MOCKMON_MAX_LOGS", 100), "log ring capacity")
	registered := fs.Bool("registered", env.Bool("MOCKMON_REGISTERED", true), "start with SIP registered")
	demoInterval := fs.Duration("demo-interval", env.Duration("MOCKMON_DEMO_INTERVAL", 3*time.Second), "traffic generator tick, 0 disables")
	scenario := fs.String("scenario", env.Str("MOCKMON_SCENARIO", ""), "YAML scenario file to seed state from")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	srv := mockmonitor.New(mockmonitor.Config{
		Username: *username,
		Password: *password,
		MaxLogs:  *maxLogs,
	})
	srv.SetRegistered(*registered)

	if *scenario != "" {
		sc, err := mockmonitor.LoadScenario(*scenario)
		if err != nil {
			slog.Error("load scenario", "error", err)
			os.Exit(1)
		}
		srv.ApplyScenario(sc)
		slog.Info("scenario applied", "path", *scenario)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *demoInterval > 0 {
		go srv.RunDemo(ctx, *demoInterval)
		slog.Info("traffic generator running", "interval", demoInterval.String())
	}

	httpSrv := &http.Server{Addr: *listen, Handler: srv}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpSrv.Shutdown(shutdownCtx)
		cancel()
	}()

	slog.Info("mockmonitor starting", "listen", *listen, "username", *username)

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("mockmonitor stopped")
}
