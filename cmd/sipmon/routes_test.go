package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/sipmon/internal/api"
	"github.com/hubenschmidt/sipmon/internal/dashboard"
	"github.com/hubenschmidt/sipmon/internal/mockmonitor"
)

// newTestDaemon wires a mock monitor, an authenticated syncer, and the
// local HTTP surface together the way main does, minus the stream.
func newTestDaemon(t *testing.T) (*mockmonitor.Server, *dashboard.Syncer, *httptest.Server) {
	t.Helper()
	m := mockmonitor.New(mockmonitor.Config{Username: "admin", Password: "secret"})
	monitor := httptest.NewServer(m)
	t.Cleanup(monitor.Close)

	client, err := api.NewClient(monitor.URL)
	require.NoError(t, err)
	require.NoError(t, client.Login(context.Background(), "admin", "secret"))

	s := dashboard.NewSyncer(client)
	t.Cleanup(s.Close)
	require.NoError(t, s.Refresh(context.Background()))

	local := httptest.NewServer(newRouter(deps{syncer: s, client: client}))
	t.Cleanup(local.Close)
	return m, s, local
}

func getJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

func TestSnapshotEndpointSortsHistoryNewestFirst(t *testing.T) {
	m, s, local := newTestDaemon(t)
	m.StartCall("call-old", "")
	m.EndCall("call-old")
	time.Sleep(time.Millisecond)
	m.StartCall("call-new", "")
	require.NoError(t, s.Refresh(context.Background()))

	var snap dashboard.Snapshot
	resp := getJSON(t, local.URL+"/api/snapshot", &snap)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Len(t, snap.CallHistory, 2)
	assert.Equal(t, "call-new", snap.CallHistory[0].CallID)
	assert.Equal(t, "call-old", snap.CallHistory[1].CallID)
	require.NotNil(t, snap.Status)
	assert.Equal(t, []string{"call-new"}, snap.Status.ActiveCalls)
}

func TestHealthzReportsLinkState(t *testing.T) {
	_, _, local := newTestDaemon(t)

	var body struct {
		Status          string `json:"status"`
		ConnectionState string `json:"connection_state"`
		AuthRequired    bool   `json:"auth_required"`
	}
	resp := getJSON(t, local.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.AuthRequired)
	assert.NotEmpty(t, body.ConnectionState)
}

func TestRefreshEndpointRateLimited(t *testing.T) {
	_, _, local := newTestDaemon(t)

	for i := 0; i < 2; i++ {
		resp, err := http.Post(local.URL+"/api/refresh", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Post(local.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "refresh rate limited", body["error"])
}

func TestRefreshEndpointUnauthorized(t *testing.T) {
	m, _, local := newTestDaemon(t)
	m.RevokeSessions()

	resp, err := http.Post(local.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body struct {
		AuthRequired bool   `json:"auth_required"`
		Error        string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.AuthRequired)
	assert.Equal(t, "authentication required", body.Error)
}

func TestSaveConfigEndpoint(t *testing.T) {
	t.Run("restarting", func(t *testing.T) {
		_, _, local := newTestDaemon(t)

		resp, err := http.Post(local.URL+"/api/config", "application/json",
			strings.NewReader(`{"OPENAI_VOICE":"verse"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var res dashboard.SaveResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.Equal(t, "restarting", res.Status)
		assert.Equal(t, 0, res.ActiveCalls)
		assert.Equal(t, "Configuration saved. The agent is restarting to apply the changes.", res.Message)

		var cfg map[string]string
		getJSON(t, local.URL+"/api/config", &cfg)
		assert.Equal(t, "verse", cfg["OPENAI_VOICE"])
	})

	t.Run("validation rejection", func(t *testing.T) {
		_, _, local := newTestDaemon(t)

		resp, err := http.Post(local.URL+"/api/config", "application/json",
			strings.NewReader(`{"SIP_TRANSPORT_PORT":"99999"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body struct {
			Error   string   `json:"error"`
			Details []string `json:"details"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "invalid configuration", body.Error)
		require.Len(t, body.Details, 1)
		assert.Contains(t, body.Details[0], "SIP_TRANSPORT_PORT")
	})

	t.Run("malformed body", func(t *testing.T) {
		_, _, local := newTestDaemon(t)

		resp, err := http.Post(local.URL+"/api/config", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "invalid JSON body", body["error"])
	})
}

func TestEventsStreamPushesSnapshots(t *testing.T) {
	m, s, local := newTestDaemon(t)

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get(local.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readSnapshotFrame(t, reader)
	require.NotNil(t, first.Status)
	assert.Empty(t, first.Status.ActiveCalls)

	// Keep committing refreshes so a frame lands after the handler has
	// subscribed, whenever that happens relative to the first flush.
	m.StartCall("live-1", "")
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				s.Refresh(context.Background())
			}
		}
	}()

	for {
		snap := readSnapshotFrame(t, reader)
		if snap.Status != nil && len(snap.Status.ActiveCalls) == 1 {
			assert.Equal(t, "live-1", snap.Status.ActiveCalls[0])
			return
		}
	}
}

func readSnapshotFrame(t *testing.T, reader *bufio.Reader) dashboard.Snapshot {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap dashboard.Snapshot
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
		return snap
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	m, _, local := newTestDaemon(t)
	m.StartCall("call-1", "corr-1")
	m.EndCall("call-1")

	resp, err := http.Get(local.URL + "/api/call_history.csv")
	require.NoError(t, err)
	body, lines := readBodyLines(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="call_history.csv"`, resp.Header.Get("Content-Disposition"))
	require.NotEmpty(t, body)
	require.Len(t, lines, 2)
	assert.Equal(t, "call_id,correlation_id,start,end,duration_seconds", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "call-1,corr-1,"))

	m.RevokeSessions()
	resp, err = http.Get(local.URL + "/api/call_history.csv")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func readBodyLines(t *testing.T, resp *http.Response) (string, []string) {
	t.Helper()
	defer resp.Body.Close()
	var sb strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		sb.WriteString(line)
		if err != nil {
			break
		}
	}
	body := sb.String()
	return body, strings.Split(strings.TrimSpace(body), "\n")
}

func TestMetricsEndpointExposed(t *testing.T) {
	_, _, local := newTestDaemon(t)

	resp, err := http.Get(local.URL + "/metrics")
	require.NoError(t, err)
	body, _ := readBodyLines(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "sipmon_refresh_duration_seconds")
}