package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Forwarder relays a final request (original or corrected) to the backend
// and returns its response unchanged. The pipeline treats it as opaque.
type Forwarder interface {
	Forward(ctx context.Context, method, pathAndQuery string, body []byte, header http.Header) (*http.Response, error)
}

// hop-by-hop headers stripped when relaying, per RFC 7230 §6.1
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// BackendForwarder is the default Forwarder over plain HTTP
type BackendForwarder struct {
	baseURL string
	client  *http.Client
}

// NewBackendForwarder creates a forwarder targeting the given base URL
func NewBackendForwarder(baseURL string) *BackendForwarder {
	return &BackendForwarder{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Forward relays the request to the backend. Once issued, the call is not
// cancelled by the inbound client disconnecting: the backend may already be
// acting on it, so tearing it down mid-flight helps nobody.
func (f *BackendForwarder) Forward(ctx context.Context, method, pathAndQuery string, body []byte, header http.Header) (*http.Response, error) {
	ctx = context.WithoutCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+pathAndQuery, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %v", err)
	}

	for name, values := range header {
		if isHopByHop(name) {
			continue
		}
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	// Corrected bodies change length; never trust the inbound header
	req.Header.Del("Content-Length")
	req.ContentLength = int64(len(body))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %v", err)
	}
	return resp, nil
}

// isHopByHop reports whether the header must not be relayed
func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if http.CanonicalHeaderKey(name) == h {
			return true
		}
	}
	return false
}
