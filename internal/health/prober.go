package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// drain at most this much of a response body before closing it
const maxDrainBytes = 64 << 10

// Prober issues a single HTTP GET and reports the status code.
type Prober interface {
	Get(ctx context.Context, url string, headers map[string]string) (int, error)
}

// HTTPProber is a Prober that never reuses connections between attempts, so
// every probe dials the target fresh and sees the current DNS and edge state.
type HTTPProber struct {
	client         *http.Client
	requestTimeout time.Duration
}

// NewHTTPProber creates a prober. requestTimeout bounds a single request;
// zero leaves the request bounded only by ctx.
func NewHTTPProber(requestTimeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: true,
			},
		},
		requestTimeout: requestTimeout,
	}
}

// Get performs the request with Cache-Control: no-cache set, drains and closes
// the body, and returns the status code.
func (p *HTTPProber) Get(ctx context.Context, url string, headers map[string]string) (int, error) {
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Close = true

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return resp.StatusCode, nil
}

// Close releases any idle connections. Safe on a nil receiver.
func (p *HTTPProber) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.CloseIdleConnections()
}
