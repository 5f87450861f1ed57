// Package apiclient is a typed client for the /api/v1 REST API. It can run
// against a live server or answer every call from embedded mock fixtures.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBaseURL is the local development server
	DefaultBaseURL = "http://localhost:8080"

	// DefaultAPIVersion is prefixed to every request path
	DefaultAPIVersion = "api/v1"

	// TenantHeader carries the caller's tenant
	TenantHeader = "X-Tenant-ID"

	defaultTimeout = 30 * time.Second
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
	// Multiplier grows the delay after each attempt
	Multiplier float64
	// ShouldRetry decides whether a response or error is retried. Requests
	// with a non-idempotent method are further limited to 429 responses and
	// connections that never reached the server.
	ShouldRetry func(resp *http.Response, err error) bool
}

// DefaultRetryConfig retries transport errors, 5xx and 429 three times
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		RetryDelay:  500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		ShouldRetry: defaultShouldRetry,
	}
}

func defaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// neverSent reports a dial failure, where the server cannot have seen the request
func neverSent(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (c *Client) shouldRetry(method string, resp *http.Response, err error) bool {
	if !c.retryConfig.ShouldRetry(resp, err) {
		return false
	}
	if isIdempotent(method) {
		return true
	}
	if err != nil {
		return neverSent(err)
	}
	return resp != nil && resp.StatusCode == http.StatusTooManyRequests
}

// Request is one API call. Path is relative to the API version root.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// NoAuth skips the Authorization header and the 401 refresh
	NoAuth bool
}

// Response is the raw outcome of a call
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	// Attempts counts live round trips, zero for mock responses
	Attempts int
	Mocked   bool
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client calls the API with retries, token refresh and an optional mock mode
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiVersion  string
	retryConfig RetryConfig
	tokens      TokenStore
	mocks       *MockServer
	live        atomic.Bool
	refreshes   singleflight.Group
	logger      *zap.Logger

	mu      sync.RWMutex
	headers map[string]string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig replaces the retry policy
func WithRetryConfig(rc RetryConfig) Option {
	return func(c *Client) {
		if rc.ShouldRetry == nil {
			rc.ShouldRetry = defaultShouldRetry
		}
		if rc.Multiplier <= 0 {
			rc.Multiplier = 2.0
		}
		c.retryConfig = rc
	}
}

// WithTokenStore replaces the in-memory token store
func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.tokens = s }
}

// WithMocks replaces the embedded mock fixtures
func WithMocks(m *MockServer) Option {
	return func(c *Client) { c.mocks = m }
}

// WithLive sets the initial mode
func WithLive(live bool) Option {
	return func(c *Client) { c.live.Store(live) }
}

// WithAPIVersion changes the path prefix
func WithAPIVersion(v string) Option {
	return func(c *Client) { c.apiVersion = strings.Trim(v, "/") }
}

// WithLogger sets the logger used for retry and refresh diagnostics
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client. It starts in live mode unless WithLive(false) is given.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiVersion:  DefaultAPIVersion,
		retryConfig: DefaultRetryConfig(),
		tokens:      NewMemoryTokenStore(),
		logger:      zap.NewNop(),
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
	}
	c.live.Store(true)
	for _, opt := range opts {
		opt(c)
	}
	if c.mocks == nil {
		m, err := DefaultMocks()
		if err != nil {
			return nil, err
		}
		c.mocks = m
	}
	return c, nil
}

// SetLive toggles between the live server and mock fixtures
func (c *Client) SetLive(live bool) {
	c.live.Store(live)
}

// IsLive reports whether calls reach the network
func (c *Client) IsLive() bool {
	return c.live.Load()
}

// Tokens returns the token store
func (c *Client) Tokens() TokenStore {
	return c.tokens
}

// SetHeader sets a default header for all requests
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

// BaseURL returns the server root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs the request. Non-2xx statuses are returned as a Response
// without an error; use Call to decode them into *APIError.
//
// A 401 on an authenticated request triggers one token refresh shared by all
// concurrent callers, then the request is replayed. When the server rejects
// the refresh token the stored tokens are cleared and ErrSessionExpired is
// returned; any other refresh failure keeps the session for a later attempt.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	if !c.IsLive() {
		return c.mocks.Serve(req.Method, strings.TrimPrefix(req.Path, "/"+c.apiVersion)), nil
	}

	sent := c.tokens.Load()
	resp, err := c.doWithRetry(ctx, req, body, sent)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode != http.StatusUnauthorized || req.NoAuth || sent.RefreshToken == "" {
		return resp, nil
	}

	if err := c.refreshOnce(ctx, sent.AccessToken); err != nil {
		return nil, err
	}
	return c.doWithRetry(ctx, req, body, c.tokens.Load())
}

// refreshOnce rotates the tokens unless another caller already did so after
// stale was sent
func (c *Client) refreshOnce(ctx context.Context, stale string) error {
	if cur := c.tokens.Load(); cur.AccessToken != "" && cur.AccessToken != stale {
		return nil
	}
	_, err, shared := c.refreshes.Do("refresh", func() (any, error) {
		current := c.tokens.Load()
		if current.AccessToken != "" && current.AccessToken != stale {
			return nil, nil
		}
		if current.RefreshToken == "" {
			return nil, ErrSessionExpired
		}
		if _, err := c.Refresh(ctx, current.RefreshToken); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err == nil {
		return nil
	}
	if !refreshRejected(err) {
		c.logger.Warn("Token refresh failed, keeping session",
			zap.Bool("shared", shared),
			zap.Error(err),
		)
		return fmt.Errorf("refreshing session: %w", err)
	}
	c.logger.Warn("Refresh token rejected, clearing session",
		zap.Bool("shared", shared),
		zap.Error(err),
	)
	c.tokens.Clear()
	return fmt.Errorf("%w: %v", ErrSessionExpired, err)
}

// refreshRejected reports a definitive answer that the refresh token is no good
func refreshRejected(err error) bool {
	if errors.Is(err, ErrSessionExpired) {
		return true
	}
	apiErr, ok := AsAPIError(err)
	return ok && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest)
}

func (c *Client) doWithRetry(ctx context.Context, req Request, body []byte, tokens Tokens) (*Response, error) {
	u, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var lastErr error
	var lastResp *Response
	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			c.logger.Debug("Retrying request",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return lastResp, ctx.Err()
			case <-time.After(delay):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		c.setHeaders(httpReq, req.NoAuth, tokens)

		start := time.Now()
		httpResp, err := c.httpClient.Do(httpReq)
		resp := &Response{Duration: time.Since(start), Attempts: attempt + 1}
		if httpResp != nil {
			resp.StatusCode = httpResp.StatusCode
			resp.Headers = httpResp.Header
			var readErr error
			resp.Body, readErr = io.ReadAll(httpResp.Body)
			httpResp.Body.Close()
			if err == nil && readErr != nil {
				err = fmt.Errorf("reading response body: %w", readErr)
			}
		}

		lastResp, lastErr = resp, err
		if ctx.Err() != nil {
			return resp, ctx.Err()
		}
		if attempt < c.retryConfig.MaxRetries && c.shouldRetry(req.Method, httpResp, err) {
			continue
		}
		if err != nil {
			return resp, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
		}
		return resp, nil
	}
	if lastErr != nil {
		return lastResp, fmt.Errorf("%s %s: %w", req.Method, req.Path, lastErr)
	}
	return lastResp, nil
}

// Call performs the request and decodes the envelope's data into out.
// Non-2xx responses become *APIError.
func (c *Client) Call(ctx context.Context, req Request, out any) (*Meta, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(resp, out)
}

// buildURL joins the base URL, API version and path
func (c *Client) buildURL(path string, query url.Values) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if c.apiVersion != "" && !strings.HasPrefix(path, "/"+c.apiVersion) {
		path = "/" + c.apiVersion + path
	}
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u, nil
}

func (c *Client) setHeaders(req *http.Request, noAuth bool, tokens Tokens) {
	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.mu.RUnlock()

	if tokens.TenantID != "" {
		req.Header.Set(TenantHeader, tokens.TenantID)
	}
	if !noAuth && tokens.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	}
}

// calculateBackoff returns the delay before the given retry, with ±25% jitter
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryConfig.RetryDelay) * math.Pow(c.retryConfig.Multiplier, float64(attempt-1))
	if limit := float64(c.retryConfig.MaxDelay); limit > 0 && delay > limit {
		delay = limit
	}
	jitter := delay * 0.25
	delay += (rand.Float64()*2 - 1) * jitter
	return time.Duration(delay)
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		return data, nil
	}
}
