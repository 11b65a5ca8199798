package tfe

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// retryTransport is a second line of defense under the retry engine: it
// re-issues idempotent GETs once when the connection dies before a response
// arrives. Everything else (backoff, classification, budgets) belongs to the
// Retrier.
type retryTransport struct {
	base  http.RoundTripper
	delay time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil || req.Method != http.MethodGet || req.Body != nil {
		return resp, err
	}
	if !isConnectError(err) {
		return resp, err
	}

	timer := time.NewTimer(t.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-req.Context().Done():
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// newHTTPClient builds the per-orchestrator HTTP client: one client per
// Client instance, never shared, configured from the descriptor.
func newHTTPClient(verifySSL bool, timeout time.Duration) *http.Client {
	base := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !verifySSL,
		},
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &retryTransport{
			base:  base,
			delay: 250 * time.Millisecond,
		},
	}
}
