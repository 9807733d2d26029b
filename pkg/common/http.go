package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the release version baked into the binary.
func Version() string {
	return strings.TrimSpace(version)
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper and stamps every outgoing request
// with our User-Agent.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// requests can be retried by callers so never touch the original headers
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return t.transport.RoundTrip(req)
}

// HTTPClient returns an http client identifying itself as SimpleElforbrug.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: "SimpleElforbrug/" + Version(),
		},
		Timeout: timeout,
	}
}
