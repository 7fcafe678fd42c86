package api

import (
	"net/http"
	"net/http/cookiejar"
	"time"
)

// newPooledHTTPClient builds an http.Client with connection pooling, a
// tuned transport, and a cookie jar for the monitor's session cookie.
func newPooledHTTPClient(poolSize int, timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}, nil
}
