package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/infrastructure/config"
)

// maxResponseSize is the maximum accepted vendor response body (10MB)
const maxResponseSize = 10 * 1024 * 1024

// Config tunes the HTTP behaviour shared by all adapters
type Config struct {
	// Timeout bounds a single vendor request
	Timeout time.Duration
	// RequestsPerSecond throttles calls per integration; 0 disables throttling
	RequestsPerSecond float64
	Burst             int
	// PushBatchSize caps records per vendor push call where the API takes batches
	PushBatchSize int
}

// DefaultConfig returns conservative vendor defaults
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		RequestsPerSecond: 4,
		Burst:             8,
		PushBatchSize:     500,
	}
}

// ConfigFromSync derives adapter settings from the sync configuration
func ConfigFromSync(c config.SyncConfig) Config {
	cfg := DefaultConfig()
	if c.VendorTimeout > 0 {
		cfg.Timeout = c.VendorTimeout
	}
	if c.VendorRequestsPerSec > 0 {
		cfg.RequestsPerSecond = c.VendorRequestsPerSec
	}
	if c.VendorBurst > 0 {
		cfg.Burst = c.VendorBurst
	}
	if c.PushBatchSize > 0 {
		cfg.PushBatchSize = c.PushBatchSize
	}
	return cfg
}

// ---------------------------------------------------------------------------
// httpCore
// ---------------------------------------------------------------------------

// httpCore is the transport every adapter embeds: one client, one rate
// limiter per integration, bounded bodies and uniform status mapping.
type httpCore struct {
	vendor string
	client *http.Client
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
}

func newHTTPCore(vendor string, cfg Config, logger *zap.Logger) *httpCore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpCore{
		vendor:   vendor,
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		logger:   logger.With(zap.String("vendor", vendor)),
		limiters: make(map[uuid.UUID]*rate.Limiter),
	}
}

// vendorRequest describes one call
type vendorRequest struct {
	Method string
	URL    string
	Header http.Header
	// JSON is encoded as the request body when set
	JSON any
	// Form is sent url-encoded when set and JSON is nil
	Form string
}

// vendorResponse is a fully read response
type vendorResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

func (c *httpCore) limiter(integrationID uuid.UUID) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[integrationID]
	if !ok {
		limit := rate.Inf
		if c.cfg.RequestsPerSecond > 0 {
			limit = rate.Limit(c.cfg.RequestsPerSecond)
		}
		burst := c.cfg.Burst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(limit, burst)
		c.limiters[integrationID] = l
	}
	return l
}

// forget drops the integration's limiter
func (c *httpCore) forget(integrationID uuid.UUID) {
	c.mu.Lock()
	delete(c.limiters, integrationID)
	c.mu.Unlock()
}

// do sends the request. A non-2xx status returns the response together with
// an error wrapping the matching integration sentinel.
func (c *httpCore) do(ctx context.Context, integrationID uuid.UUID, r vendorRequest) (*vendorResponse, error) {
	if err := c.limiter(integrationID).Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.JSON != nil:
		raw, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", c.vendor, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	case r.Form != "":
		body = strings.NewReader(r.Form)
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", integration.ErrVendorRequestFailed, c.vendor, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", integration.ErrVendorUnavailable, c.vendor, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", integration.ErrVendorUnavailable, c.vendor, err)
	}
	if len(raw) > maxResponseSize {
		return nil, fmt.Errorf("%w: %s: response exceeds %d bytes", integration.ErrVendorInvalidResponse, c.vendor, maxResponseSize)
	}

	c.logger.Debug("vendor request",
		zap.String("method", r.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	out := &vendorResponse{Status: resp.StatusCode, Header: resp.Header, Body: raw}
	return out, statusError(c.vendor, resp.StatusCode, raw)
}

// statusError maps an HTTP status to an integration sentinel
func statusError(vendor string, status int, body []byte) error {
	var sentinel error
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = integration.ErrVendorAuthFailed
	case status == http.StatusTooManyRequests:
		sentinel = integration.ErrVendorRateLimited
	case status >= 500:
		sentinel = integration.ErrVendorUnavailable
	default:
		sentinel = integration.ErrVendorRequestFailed
	}
	return fmt.Errorf("%w: %s HTTP %d%s", sentinel, vendor, status, snippet(body))
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return ""
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return ": " + s
}

// decodeJSON decodes body keeping numbers as json.Number
func decodeJSON(vendor string, body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", integration.ErrVendorInvalidResponse, vendor, err)
	}
	return nil
}

// isTransportFailure reports errors that should abort a batch rather than
// count against a single record
func isTransportFailure(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, integration.ErrVendorUnavailable) ||
		errors.Is(err, integration.ErrVendorRateLimited) ||
		errors.Is(err, integration.ErrVendorAuthFailed)
}

// ---------------------------------------------------------------------------
// sessions
// ---------------------------------------------------------------------------

// sessions holds per-integration connection state
type sessions[T any] struct {
	mu sync.RWMutex
	m  map[uuid.UUID]*T
}

func newSessions[T any]() *sessions[T] {
	return &sessions[T]{m: make(map[uuid.UUID]*T)}
}

func (s *sessions[T]) get(id uuid.UUID) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[id]
	if !ok {
		return nil, integration.ErrNotConnected
	}
	return v, nil
}

func (s *sessions[T]) put(id uuid.UUID, v *T) {
	s.mu.Lock()
	s.m[id] = v
	s.mu.Unlock()
}

func (s *sessions[T]) drop(id uuid.UUID) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

// idString renders a decoded JSON id as text
func idString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// toRecords converts decoded objects into external records
func toRecords(kind integration.RecordKind, items []map[string]any, idOf func(map[string]any) string) []integration.ExternalRecord {
	out := make([]integration.ExternalRecord, 0, len(items))
	for _, item := range items {
		out = append(out, integration.ExternalRecord{
			Kind:       kind,
			ExternalID: idOf(item),
			Fields:     item,
		})
	}
	return out
}

func field(name string) func(map[string]any) string {
	return func(m map[string]any) string { return idString(m[name]) }
}

func requireCreds(cfg integration.ConnectionConfig, keys ...string) error {
	if !cfg.Credentials.Has(keys...) {
		return fmt.Errorf("%w: need %s", integration.ErrMissingCredentials, strings.Join(keys, ", "))
	}
	return nil
}
