// Package hubclient submits signed event batches to the hub over HTTP.
package hubclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/sign"
)

// RateLimitedError reports a 429 response. RetryAfter is the hub's
// requested minimum deferral, zero if the header was absent.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("hubclient: rate limited, retry after %s", e.RetryAfter)
}

// PermanentError reports a response that retrying the same bytes
// cannot fix (auth failures, malformed-input rejections).
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("hubclient: rejected with status %d: %s", e.Status, e.Body)
}

// ErrTransport wraps network-level failures; callers retry these.
var ErrTransport = errors.New("hubclient: transport failure")

// Client posts signed batches to a hub's /events endpoint.
type Client struct {
	baseURL  string
	sourceID string
	signer   *sign.Signer
	http     *http.Client
}

// New creates a client for the given hub. The signer is the monitor's
// loaded private key.
func New(baseURL, sourceID string, signer *sign.Signer) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		sourceID: sourceID,
		signer:   signer,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Submit signs body and posts it. The signature covers the exact bytes
// sent; the body must not be re-serialized between signing and
// transmission. Returns nil on 202, *RateLimitedError on 429,
// *PermanentError on other 4xx, and a transport error otherwise.
func (c *Client) Submit(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("hubclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source-ID", c.sourceID)
	req.Header.Set("X-Signature", c.signer.Sign(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &PermanentError{Status: resp.StatusCode, Body: readBody(resp)}
	default:
		return fmt.Errorf("%w: hub returned status %d", ErrTransport, resp.StatusCode)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func readBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
