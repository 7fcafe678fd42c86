package mockmonitor

import (
	"fmt"
	"strconv"

	"github.com/hubenschmidt/sipmon/internal/models"
)

// configKeys is the editable surface the agent exposes over /api/config.
// Unknown keys in update requests are ignored, matching the agent.
var configKeys = []string{
	"SIP_DOMAIN",
	"SIP_USER",
	"SIP_PASS",
	"OPENAI_API_KEY",
	"AGENT_ID",
	"ENABLE_SIP",
	"ENABLE_AUDIO",
	"OPENAI_MODE",
	"OPENAI_MODEL",
	"OPENAI_VOICE",
	"OPENAI_TEMPERATURE",
	"SYSTEM_PROMPT",
	"SIP_TRANSPORT_PORT",
	"SIP_JB_MIN",
	"SIP_JB_MAX",
	"SIP_JB_MAX_PRE",
	"SIP_ENABLE_ICE",
	"SIP_ENABLE_TURN",
	"SIP_STUN_SERVER",
	"SIP_TURN_SERVER",
	"SIP_TURN_USER",
	"SIP_TURN_PASS",
	"SIP_ENABLE_SRTP",
	"SIP_SRTP_OPTIONAL",
	"SIP_PREFERRED_CODECS",
	"SIP_REG_RETRY_BASE",
	"SIP_REG_RETRY_MAX",
	"SIP_INVITE_RETRY_BASE",
	"SIP_INVITE_RETRY_MAX",
	"SIP_INVITE_MAX_ATTEMPTS",
}

func defaultConfig() models.ConfigMap {
	return models.ConfigMap{
		"SIP_DOMAIN":              "sip.example.com",
		"SIP_USER":                "1001",
		"SIP_PASS":                "changeme",
		"OPENAI_API_KEY":          "sk-mock",
		"AGENT_ID":                "agent-1",
		"ENABLE_SIP":              "true",
		"ENABLE_AUDIO":            "true",
		"OPENAI_MODE":             "legacy",
		"OPENAI_MODEL":            "gpt-realtime",
		"OPENAI_VOICE":            "alloy",
		"OPENAI_TEMPERATURE":      "0.3",
		"SYSTEM_PROMPT":           "You are a helpful voice assistant.",
		"SIP_TRANSPORT_PORT":      "5060",
		"SIP_JB_MIN":              "0",
		"SIP_JB_MAX":              "0",
		"SIP_JB_MAX_PRE":          "0",
		"SIP_ENABLE_ICE":          "false",
		"SIP_ENABLE_TURN":         "false",
		"SIP_STUN_SERVER":         "",
		"SIP_TURN_SERVER":         "",
		"SIP_TURN_USER":           "",
		"SIP_TURN_PASS":           "",
		"SIP_ENABLE_SRTP":         "false",
		"SIP_SRTP_OPTIONAL":       "true",
		"SIP_PREFERRED_CODECS":    "PCMU,PCMA",
		"SIP_REG_RETRY_BASE":      "2.0",
		"SIP_REG_RETRY_MAX":       "60.0",
		"SIP_INVITE_RETRY_BASE":   "1.0",
		"SIP_INVITE_RETRY_MAX":    "30.0",
		"SIP_INVITE_MAX_ATTEMPTS": "5",
	}
}

var (
	requiredKeys = []string{"SIP_DOMAIN", "SIP_USER", "SIP_PASS", "OPENAI_API_KEY", "AGENT_ID"}
	boolKeys     = []string{"ENABLE_SIP", "ENABLE_AUDIO", "SIP_ENABLE_ICE", "SIP_ENABLE_TURN", "SIP_ENABLE_SRTP", "SIP_SRTP_OPTIONAL"}
	intKeys      = []string{"SIP_JB_MIN", "SIP_JB_MAX", "SIP_JB_MAX_PRE", "SIP_INVITE_MAX_ATTEMPTS"}
	floatKeys    = []string{"SIP_REG_RETRY_BASE", "SIP_REG_RETRY_MAX", "SIP_INVITE_RETRY_BASE", "SIP_INVITE_RETRY_MAX"}
)

// validateConfig checks a fully merged configuration and returns one
// "KEY: reason" detail per violation, in a stable order.
func validateConfig(cfg models.ConfigMap) []string {
	var details []string
	fail := func(key, reason string) {
		details = append(details, fmt.Sprintf("%s: %s", key, reason))
	}

	for _, key := range requiredKeys {
		if cfg[key] == "" {
			fail(key, "must not be empty")
		}
	}
	for _, key := range boolKeys {
		if _, err := strconv.ParseBool(cfg[key]); err != nil {
			fail(key, "must be a boolean")
		}
	}
	if port, err := strconv.Atoi(cfg["SIP_TRANSPORT_PORT"]); err != nil {
		fail("SIP_TRANSPORT_PORT", "must be an integer")
	} else if port < 0 || port > 65535 {
		fail("SIP_TRANSPORT_PORT", "must be between 0 and 65535")
	}
	for _, key := range intKeys {
		if n, err := strconv.Atoi(cfg[key]); err != nil {
			fail(key, "must be an integer")
		} else if n < 0 {
			fail(key, "must not be negative")
		}
	}
	if temp, err := strconv.ParseFloat(cfg["OPENAI_TEMPERATURE"], 64); err != nil {
		fail("OPENAI_TEMPERATURE", "must be a number")
	} else if temp < 0 || temp > 2 {
		fail("OPENAI_TEMPERATURE", "must be between 0 and 2")
	}
	for _, key := range floatKeys {
		if f, err := strconv.ParseFloat(cfg[key], 64); err != nil {
			fail(key, "must be a number")
		} else if f < 0 {
			fail(key, "must not be negative")
		}
	}
	return details
}
