// Package api is the credentialed REST client for the SIP voice-agent
// monitor. It normalizes error responses into single human-readable
// messages and distinguishes authentication failures so the
// synchronization layer can suspend itself instead of retrying.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var errUnexpectedFormat = errors.New("unexpected response format")

// Client talks to one monitor instance. The embedded cookie jar holds the
// session cookie set by Login, so every request is credentialed.
type Client struct {
	base   *url.URL
	client *http.Client
}

// NewClient creates a monitor client for the given base URL
// (e.g. "http://127.0.0.1:8080").
func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse monitor url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("monitor url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("monitor url %q: missing host", baseURL)
	}

	hc, err := newPooledHTTPClient(4, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}
	return &Client{base: u, client: hc}, nil
}

// BaseURL returns the monitor base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Jar exposes the session cookie jar so the event stream dialer presents
// the same credentials as REST calls.
func (c *Client) Jar() http.CookieJar {
	return c.client.Jar
}

// EventsURL derives the ws(s):// URL of the monitor's event stream.
func (c *Client) EventsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/events"
	return u.String()
}

// FetchJSON performs one credentialed request and decodes the JSON
// response into out (out may be nil to discard the body). A 401 fails
// with *UnauthorizedError regardless of body. Any other non-2xx fails
// with *RequestError carrying one normalized message. A 2xx with an empty
// or non-JSON body fails with a generic format error. No retries, no
// caching.
func (c *Client) FetchJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errUnexpectedFormat
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", errUnexpectedFormat, err)
	}
	return nil
}

// checkStatus maps response statuses to the error taxonomy. It consumes
// the body on failure.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return &UnauthorizedError{URL: resp.Request.URL.String()}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return errorFromResponse(resp)
	}
	return nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.base.String(), "/") + path
}

// Login authenticates against the monitor and stores the session cookie
// in the jar. Bad credentials surface as *UnauthorizedError.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.FetchJSON(ctx, http.MethodPost, "/login", body, &out); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if !out.Success {
		return errors.New("login: monitor rejected credentials")
	}
	return nil
}

// Logout revokes the session. The monitor answers with a redirect to the
// login page, so the body is discarded rather than decoded.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.FetchJSON(ctx, http.MethodPost, "/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
