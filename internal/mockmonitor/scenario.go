package mockmonitor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hubenschmidt/sipmon/internal/models"
)

// Scenario seeds a mock instance with a reproducible starting state.
// Only known configuration keys are applied; history entries without an
// end time become active calls.
type Scenario struct {
	Registered     *bool             `yaml:"registered"`
	RealtimeState  string            `yaml:"realtime_state"`
	RealtimeDetail string            `yaml:"realtime_detail"`
	TokensUsed     int64             `yaml:"tokens_used"`
	Config         map[string]string `yaml:"config"`
	CallHistory    []ScenarioCall    `yaml:"call_history"`
	Logs           []string          `yaml:"logs"`
}

// ScenarioCall is one seeded call history entry.
type ScenarioCall struct {
	CallID        string   `yaml:"call_id"`
	CorrelationID string   `yaml:"correlation_id"`
	Start         float64  `yaml:"start"`
	End           *float64 `yaml:"end"`
}

// LoadScenario reads and parses a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return &sc, nil
}

// ApplyScenario merges the scenario into the current state and pushes
// the result to subscribers.
func (s *Server) ApplyScenario(sc *Scenario) {
	if sc == nil {
		return
	}
	s.mu.Lock()
	for _, key := range configKeys {
		if v, ok := sc.Config[key]; ok {
			s.config[key] = v
		}
	}
	if sc.Registered != nil {
		s.registered = *sc.Registered
	}
	if sc.RealtimeState != "" {
		s.realtimeState = sc.RealtimeState
		s.realtimeDetail = sc.RealtimeDetail
		s.lastWSEvent = epochNow()
	}
	if sc.TokensUsed > 0 {
		s.tokens = sc.TokensUsed
	}
	for _, c := range sc.CallHistory {
		s.history = append(s.history, models.CallHistoryEntry{
			CallID:        c.CallID,
			CorrelationID: c.CorrelationID,
			Start:         c.Start,
			End:           c.End,
		})
		s.totalCalls++
		if c.End == nil {
			s.active = append(s.active, c.CallID)
		}
	}
	s.logs = append(s.logs, sc.Logs...)
	s.trimLogsLocked()
	s.mu.Unlock()

	s.broadcastStatus()
	s.broadcastMetrics()
}
