package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallHistoryEntryDuration(t *testing.T) {
	end := 1712000042.5
	done := CallHistoryEntry{CallID: "a", Start: 1712000000.0, End: &end}
	assert.False(t, done.Active())
	assert.InDelta(t, 42.5, done.Duration(), 1e-9)

	live := CallHistoryEntry{CallID: "b", Start: 1712000050.0}
	assert.True(t, live.Active())
	assert.Zero(t, live.Duration())
}

func TestConfigMapClone(t *testing.T) {
	orig := ConfigMap{"SIP_DOMAIN": "sip.example.com"}
	clone := orig.Clone()
	clone["SIP_DOMAIN"] = "other"
	assert.Equal(t, "sip.example.com", orig["SIP_DOMAIN"])
	assert.Nil(t, ConfigMap(nil).Clone())
}

func TestHealthOK(t *testing.T) {
	assert.True(t, (&Health{Status: "ok"}).OK())
	assert.False(t, (&Health{Status: "degraded"}).OK())
	assert.False(t, (*Health)(nil).OK())
}