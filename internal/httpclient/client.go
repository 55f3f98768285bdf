// Package httpclient provides the shared HTTP client used to reach remote
// inference backends. It layers a default timeout, User-Agent injection, and
// an optional observe callback over a pooled transport, and converts non-2xx
// responses into tagged errors.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/audiohub/audiohub-go/internal/errors"
)

// DefaultTimeout applies to requests whose context carries no deadline.
const DefaultTimeout = 30 * time.Second

const (
	defaultUserAgent           = "AudioHub-Go"
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second

	dialTimeout           = 30 * time.Second
	dialKeepAlive         = 30 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 10 * time.Second

	// maxErrorBodySnippet bounds how much of a failed response body is
	// carried in error context.
	maxErrorBodySnippet = 512
)

// ObserveFunc receives the outcome of every round trip. Status is 0 when the
// transport failed before a response arrived.
type ObserveFunc func(method, url string, status int, elapsed time.Duration, err error)

// Config holds the tunable parts of the client. Zero values fall back to the
// package defaults.
type Config struct {
	// DefaultTimeout applies when the request context has no deadline.
	DefaultTimeout time.Duration

	// UserAgent is set on requests that do not carry one.
	UserAgent string

	// MaxIdleConns and MaxIdleConnsPerHost size the connection pool.
	MaxIdleConns        int
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections stay pooled.
	IdleConnTimeout time.Duration

	// Observe, when set, is called after every round trip.
	Observe ObserveFunc
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxIdleConnsPerHost == 0 {
		c.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if c.IdleConnTimeout == 0 {
		c.IdleConnTimeout = defaultIdleConnTimeout
	}
	return c
}

// Client is safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string
	observe        ObserveFunc
}

// New creates a client from cfg. A nil cfg uses the package defaults; the
// caller's config is never mutated.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c = c.withDefaults()

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: dialKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		IdleConnTimeout:       c.IdleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
	}

	return &Client{
		// Per-request deadlines come from the context, not http.Client.Timeout.
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
		observe:        c.Observe,
	}
}

// Do executes req. When the context carries no deadline the client's default
// timeout is applied; cancellation stops the request immediately. The caller
// owns the response body on a nil error.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil http request")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		defer cancel()
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if c.observe != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.observe(req.Method, req.URL.String(), status, time.Since(start), err)
	}
	return resp, err
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// Post performs a POST request with the given body. A nil body sends an
// empty request.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("building POST request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(ctx, req)
}

// GetBytes performs a GET request and returns the response body.
// Non-2xx statuses are converted to tagged errors; the body is always closed.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return readSuccessBody(resp, url)
}

// PostJSON marshals payload to JSON, POSTs it, and returns the response body.
// Non-2xx statuses are converted to tagged errors; the body is always closed.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request payload: %w", err)
	}
	resp, err := c.Post(ctx, url, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return readSuccessBody(resp, url)
}

// readSuccessBody drains and closes the response body, returning it for 2xx
// statuses and a tagged error for everything else.
func readSuccessBody(resp *http.Response, url string) ([]byte, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(err).
			Component("httpclient").
			Category(errors.CategoryHTTP).
			Kind(errors.KindConnection).
			Context("url", url).
			Build()
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		kind := errors.KindConnection
		if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			kind = errors.KindInvalidInput
		}
		snippet := body
		if len(snippet) > maxErrorBodySnippet {
			snippet = snippet[:maxErrorBodySnippet]
		}
		return nil, errors.Newf("unexpected status %d from %s", resp.StatusCode, url).
			Component("httpclient").
			Category(errors.CategoryHTTP).
			Kind(kind).
			Context("status_code", resp.StatusCode).
			Context("body", string(snippet)).
			Build()
	}

	return body, nil
}

// HTTPClient exposes the underlying http.Client so callers can swap the
// transport, primarily for request interception in tests.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
