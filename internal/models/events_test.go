package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventStatus(t *testing.T) {
	frame := `{"type":"status","payload":{"sip_registered":true,"active_calls":["c1","c2"],"api_tokens_used":42,"realtime_ws_state":"healthy"}}`

	ev, err := ParseEvent([]byte(frame))
	require.NoError(t, err)

	st, ok := ev.(StatusEvent)
	require.True(t, ok, "expected StatusEvent, got %T", ev)
	assert.True(t, st.Status.SIPRegistered)
	assert.Equal(t, []string{"c1", "c2"}, st.Status.ActiveCalls)
	assert.Equal(t, int64(42), st.Status.APITokensUsed)
	assert.Equal(t, RealtimeHealthy, st.Status.RealtimeWSState)
}

func TestParseEventCallHistory(t *testing.T) {
	frame := `{"type":"call_history","payload":[{"call_id":"c1","start":100.5,"end":110.5},{"call_id":"c2","start":200,"end":null}]}`

	ev, err := ParseEvent([]byte(frame))
	require.NoError(t, err)

	ch, ok := ev.(CallHistoryEvent)
	require.True(t, ok)
	require.Len(t, ch.Entries, 2)
	assert.False(t, ch.Entries[0].Active())
	assert.InDelta(t, 10.0, ch.Entries[0].Duration(), 1e-9)
	assert.True(t, ch.Entries[1].Active())
	assert.Zero(t, ch.Entries[1].Duration())
}

func TestParseEventLogShapes(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"log","entry":"[12:00:00] [INFO] call started"}`))
	require.NoError(t, err)
	require.IsType(t, LogEvent{}, ev)
	assert.Equal(t, "[12:00:00] [INFO] call started", ev.(LogEvent).Line)

	ev, err = ParseEvent([]byte(`{"type":"logs","entries":["a","b"]}`))
	require.NoError(t, err)
	require.IsType(t, LogsEvent{}, ev)
	assert.Equal(t, []string{"a", "b"}, ev.(LogsEvent).Lines)
}

func TestParseEventUnknownTypeIsNoOp(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"gpu_temperature","payload":{"celsius":71}}`))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseEventMalformed(t *testing.T) {
	_, err := ParseEvent([]byte(`not json at all`))
	require.Error(t, err)

	// Known tag with a payload of the wrong shape is also an error.
	_, err = ParseEvent([]byte(`{"type":"status","payload":[1,2,3]}`))
	require.Error(t, err)
}

func TestMarshalEventRoundTrip(t *testing.T) {
	end := 110.0
	orig := CallHistoryEvent{Entries: []CallHistoryEntry{
		{CallID: "c1", Start: 100, End: &end, CorrelationID: "corr-1"},
	}}

	data, err := MarshalEvent(orig)
	require.NoError(t, err)

	ev, err := ParseEvent(data)
	require.NoError(t, err)
	assert.Equal(t, orig, ev)
}

func TestSortByStartDesc(t *testing.T) {
	entries := []CallHistoryEntry{
		{CallID: "old", Start: 100},
		{CallID: "new", Start: 300},
		{CallID: "mid", Start: 200},
	}

	SortByStartDesc(entries)

	assert.Equal(t, "new", entries[0].CallID)
	assert.Equal(t, "mid", entries[1].CallID)
	assert.Equal(t, "old", entries[2].CallID)
}
