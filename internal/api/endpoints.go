package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hubenschmidt/sipmon/internal/models"
)

// Status fetches the current registration and realtime-channel snapshot.
func (c *Client) Status(ctx context.Context) (*models.StatusSnapshot, error) {
	var s models.StatusSnapshot
	if err := c.FetchJSON(ctx, http.MethodGet, "/api/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CallHistory fetches all call records in the monitor's order.
func (c *Client) CallHistory(ctx context.Context) ([]models.CallHistoryEntry, error) {
	var entries []models.CallHistoryEntry
	if err := c.FetchJSON(ctx, http.MethodGet, "/api/call_history", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Logs fetches the monitor's buffered log lines.
func (c *Client) Logs(ctx context.Context) ([]string, error) {
	var out struct {
		Logs []string `json:"logs"`
	}
	if err := c.FetchJSON(ctx, http.MethodGet, "/api/logs", nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// Config fetches the monitor's environment configuration.
func (c *Client) Config(ctx context.Context) (models.ConfigMap, error) {
	var cfg models.ConfigMap
	if err := c.FetchJSON(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Metrics fetches the aggregate metrics snapshot. The endpoint is
// optional on older monitors; callers tolerate failure.
func (c *Client) Metrics(ctx context.Context) (*models.MetricsSnapshot, error) {
	var m models.MetricsSnapshot
	if err := c.FetchJSON(ctx, http.MethodGet, "/metrics", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateConfig posts the full configuration map. A 400 with the monitor's
// validation payload fails with *ValidationError; success returns the
// server's reload descriptor, which may be nil on monitors that apply
// changes without reloading.
func (c *Client) UpdateConfig(ctx context.Context, values models.ConfigMap) (*models.ReloadStatus, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/update_config"), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST /api/update_config: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadRequest:
		var out models.UpdateConfigResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("%w: %v", errUnexpectedFormat, err)
		}
		if !out.Success {
			return nil, &ValidationError{Message: out.Error, Details: out.Details}
		}
		return out.Reload, nil
	default:
		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		return nil, errUnexpectedFormat
	}
}

// ExportCallHistoryCSV streams the CSV export into w and returns the
// number of bytes written. The payload is passed through, never parsed.
func (c *Client) ExportCallHistoryCSV(ctx context.Context, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/call_history.csv"), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET /api/call_history.csv: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return 0, err
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("stream csv export: %w", err)
	}
	return n, nil
}

// Healthz probes the monitor's health endpoint, which requires no
// authentication. A degraded monitor answers 503 with the same payload,
// so both 200 and 503 decode successfully.
func (c *Client) Healthz(ctx context.Context) (*models.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/healthz"), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET /healthz: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		return nil, errUnexpectedFormat
	}

	var h models.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnexpectedFormat, err)
	}
	return &h, nil
}
