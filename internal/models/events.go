package models

import (
	"encoding/json"
	"fmt"
)

// Event type tags carried in the "type" field of /ws/events frames.
const (
	EventStatus      = "status"
	EventCallHistory = "call_history"
	EventMetrics     = "metrics"
	EventLogs        = "logs"
	EventLog         = "log"
)

// CloseUnauthorized is the WebSocket close code the monitor sends when the
// session cookie is missing or expired.
const CloseUnauthorized = 4401

// Event is one decoded /ws/events frame.
type Event interface {
	// Type returns the wire tag of the event.
	Type() string
}

// StatusEvent replaces the status snapshot wholesale.
type StatusEvent struct {
	Status StatusSnapshot
}

func (StatusEvent) Type() string { return EventStatus }

// CallHistoryEvent replaces the call history collection wholesale.
type CallHistoryEvent struct {
	Entries []CallHistoryEntry
}

func (CallHistoryEvent) Type() string { return EventCallHistory }

// MetricsEvent replaces the metrics snapshot wholesale.
type MetricsEvent struct {
	Metrics MetricsSnapshot
}

func (MetricsEvent) Type() string { return EventMetrics }

// LogsEvent replaces the log buffer with a full batch.
type LogsEvent struct {
	Lines []string
}

func (LogsEvent) Type() string { return EventLogs }

// LogEvent appends a single log line.
type LogEvent struct {
	Line string
}

func (LogEvent) Type() string { return EventLog }

// eventFrame is the wire envelope. status/call_history/metrics carry a
// payload object; logs carries entries; log carries entry.
type eventFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Entry   string          `json:"entry,omitempty"`
	Entries []string        `json:"entries,omitempty"`
}

// ParseEvent decodes one frame. Unknown type tags return (nil, nil) so new
// server event kinds pass through as no-ops; malformed frames return an
// error for the caller to log and discard.
func ParseEvent(data []byte) (Event, error) {
	var frame eventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode event frame: %w", err)
	}

	switch frame.Type {
	case EventStatus:
		var s StatusSnapshot
		if err := json.Unmarshal(frame.Payload, &s); err != nil {
			return nil, fmt.Errorf("decode status payload: %w", err)
		}
		return StatusEvent{Status: s}, nil
	case EventCallHistory:
		var entries []CallHistoryEntry
		if err := json.Unmarshal(frame.Payload, &entries); err != nil {
			return nil, fmt.Errorf("decode call_history payload: %w", err)
		}
		return CallHistoryEvent{Entries: entries}, nil
	case EventMetrics:
		var m MetricsSnapshot
		if err := json.Unmarshal(frame.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode metrics payload: %w", err)
		}
		return MetricsEvent{Metrics: m}, nil
	case EventLogs:
		return LogsEvent{Lines: frame.Entries}, nil
	case EventLog:
		return LogEvent{Line: frame.Entry}, nil
	default:
		return nil, nil
	}
}

// MarshalEvent encodes an event into its wire frame. The mock backend and
// tests use it to produce frames identical to the monitor's.
func MarshalEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case StatusEvent:
		return marshalPayloadFrame(EventStatus, e.Status)
	case CallHistoryEvent:
		entries := e.Entries
		if entries == nil {
			entries = []CallHistoryEntry{}
		}
		return marshalPayloadFrame(EventCallHistory, entries)
	case MetricsEvent:
		return marshalPayloadFrame(EventMetrics, e.Metrics)
	case LogsEvent:
		lines := e.Lines
		if lines == nil {
			lines = []string{}
		}
		return json.Marshal(struct {
			Type    string   `json:"type"`
			Entries []string `json:"entries"`
		}{EventLogs, lines})
	case LogEvent:
		return json.Marshal(struct {
			Type  string `json:"type"`
			Entry string `json:"entry"`
		}{EventLog, e.Line})
	default:
		return nil, fmt.Errorf("unknown event type %T", ev)
	}
}

func marshalPayloadFrame(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return json.Marshal(eventFrame{Type: typ, Payload: raw})
}
