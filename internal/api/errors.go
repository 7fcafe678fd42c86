package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
)

// maxErrorBody bounds how much of an error response is read for message
// extraction. Proxy error pages are small; anything larger is truncated.
const maxErrorBody = 64 << 10

// UnauthorizedError marks an HTTP 401 from any monitor endpoint or an
// authentication failure on the event socket. Callers treat it specially:
// it suspends synchronization instead of surfacing as a plain error.
type UnauthorizedError struct {
	URL string
}

func (e *UnauthorizedError) Error() string {
	return "authentication required"
}

// IsUnauthorized reports whether err is (or wraps) an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}

// RequestError is a non-2xx, non-401 response reduced to a single
// human-readable message. Error() returns exactly that message so it can
// be shown to the user unmodified.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return e.Message
}

// ValidationError is a configuration save the monitor rejected. Details
// lists the per-field problems for the config form.
type ValidationError struct {
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// errorFromResponse normalizes a non-2xx, non-401 response into a
// RequestError. One message is produced, in priority order: a JSON body's
// detail or error field; title/h1/stripped text for markup bodies; the
// HTTP status text; a generic fallback. The JSON and markup paths never
// both run for the same response.
func errorFromResponse(resp *http.Response) *RequestError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if msg := messageFromBody(body, resp.Header.Get("Content-Type")); msg != "" {
		return &RequestError{StatusCode: resp.StatusCode, Message: msg}
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return &RequestError{StatusCode: resp.StatusCode, Message: text}
	}
	return &RequestError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("request failed with status %d", resp.StatusCode),
	}
}

func messageFromBody(body []byte, contentType string) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var jsonBody struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &jsonBody) == nil {
		if jsonBody.Detail != "" {
			return jsonBody.Detail
		}
		return jsonBody.Error
	}

	if isMarkup(trimmed, contentType) {
		return sanitizeErrorMessage(trimmed)
	}
	return ""
}

// isMarkup decides whether an error body should go through the markup
// extractor: either the server said so, or the body starts with a tag.
func isMarkup(body, contentType string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if mt == "text/html" || mt == "application/xhtml+xml" {
			return true
		}
	}
	return strings.HasPrefix(body, "<")
}

var (
	titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	h1Re    = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	blockRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// sanitizeErrorMessage reduces an error body to display text. HTML
// documents yield the <title> text, else the first <h1>, else the body
// with tags stripped and whitespace collapsed. Plain text comes back
// trimmed but otherwise unmodified.
func sanitizeErrorMessage(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.Contains(trimmed, "<") {
		return trimmed
	}

	if m := titleRe.FindStringSubmatch(trimmed); m != nil {
		if text := cleanFragment(m[1]); text != "" {
			return text
		}
	}
	if m := h1Re.FindStringSubmatch(trimmed); m != nil {
		if text := cleanFragment(m[1]); text != "" {
			return text
		}
	}

	stripped := blockRe.ReplaceAllString(trimmed, " ")
	stripped = tagRe.ReplaceAllString(stripped, " ")
	return cleanFragment(stripped)
}

func cleanFragment(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
