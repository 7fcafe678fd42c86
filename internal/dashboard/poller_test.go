package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hubenschmidt/sipmon/internal/api"
	"github.com/hubenschmidt/sipmon/internal/mockmonitor"
)

func TestPollerRefreshesPeriodically(t *testing.T) {
	m, c := newMock(t)
	m.SetRegistered(true)
	login(t, c)

	s := newTestSyncer(c)
	defer s.Close()
	s.Limiter().SetLimit(rate.Inf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPoller(s, 5*time.Millisecond)
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Status != nil && snap.Status.SIPRegistered
	}, 2*time.Second, 10*time.Millisecond, "poller never refreshed")
}

func TestPollerSkipsWhileSuspended(t *testing.T) {
	m := mockmonitor.New(mockmonitor.Config{Username: "admin", Password: "secret"})
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		m.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := api.NewClient(srv.URL)
	require.NoError(t, err)

	s := newTestSyncer(c)
	defer s.Close()
	s.Limiter().SetLimit(rate.Inf)

	// No session: the first refresh suspends synchronization.
	require.Error(t, s.Refresh(context.Background()))
	require.True(t, s.AuthRequired())
	time.Sleep(50 * time.Millisecond) // let cancelled fan-out stragglers land
	base := hits.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPoller(s, 5*time.Millisecond)
	go p.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, base, hits.Load(), "suspended poller must not touch the monitor")
}

func TestPollerReloginResumesSynchronization(t *testing.T) {
	m, c := newMock(t)
	login(t, c)

	s := newTestSyncer(c)
	defer s.Close()
	s.Limiter().SetLimit(rate.Inf)
	require.NoError(t, s.Refresh(context.Background()))

	m.RevokeSessions()
	require.Error(t, s.Refresh(context.Background()))
	require.True(t, s.AuthRequired())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPoller(s, 5*time.Millisecond)
	p.Relogin = func(ctx context.Context) error {
		return c.Login(ctx, "admin", "secret")
	}
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return !s.AuthRequired()
	}, 2*time.Second, 10*time.Millisecond, "relogin never resumed synchronization")
}

func TestPollerBreakerStopsHammeringDeadMonitor(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c, err := api.NewClient(srv.URL)
	require.NoError(t, err)

	s := newTestSyncer(c)
	defer s.Close()
	s.Limiter().SetLimit(rate.Inf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPoller(s, 5*time.Millisecond)
	go p.Run(ctx)

	// After six consecutive failed refreshes the breaker opens and the
	// traffic stops for its 30s probe window.
	require.Eventually(t, func() bool {
		before := hits.Load()
		time.Sleep(40 * time.Millisecond)
		return before > 0 && hits.Load() == before
	}, 5*time.Second, 20*time.Millisecond, "breaker never opened")

	assert.NotEmpty(t, s.Snapshot().Err)
}
