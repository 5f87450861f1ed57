package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appintegration "github.com/supplychain/backend/internal/application/integration"
)

var tenantID = uuid.MustParse("0b7d1e6c-2f55-4c4e-8a3b-6d2c1f0e9b10")

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, RetryDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newLiveClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithRetryConfig(fastRetry())}, opts...)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": msg},
	})
}

func tokenBody(access, refresh string) map[string]any {
	return map[string]any{
		"access_token":            access,
		"refresh_token":           refresh,
		"access_token_expires_at": time.Now().Add(15 * time.Minute),
		"token_type":              "Bearer",
	}
}

func TestClient_MockMode(t *testing.T) {
	c, err := New("", WithLive(false))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("login stores the mock session", func(t *testing.T) {
		res, err := c.Login(ctx, "admin", "whatever")
		require.NoError(t, err)
		assert.Equal(t, "mock-access-token", res.AccessToken)
		tokens := c.Tokens().Load()
		assert.Equal(t, "mock-refresh-token", tokens.RefreshToken)
		assert.Equal(t, tenantID.String(), tokens.TenantID)
	})

	t.Run("typed calls decode fixtures", func(t *testing.T) {
		items, meta, err := c.ListIntegrations(ctx, ListOptions{Page: 1})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "SAP", string(items[0].Type))
		require.NotNil(t, meta)
		assert.Equal(t, int64(2), meta.Total)

		run, err := c.SyncIntegration(ctx, items[0].ID, appintegration.SyncRequest{})
		require.NoError(t, err)
		assert.Equal(t, 42, run.Total)

		batch, err := c.SyncAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, batch.Failed)

		progress, err := c.CompleteOnboardingStep(ctx, "kyc")
		require.NoError(t, err)
		assert.Equal(t, 66, progress.Percent)

		app, err := c.SubmitKYC(ctx)
		require.NoError(t, err)
		assert.Equal(t, "PENDING_REVIEW", string(app.Status))
	})

	t.Run("unknown route returns MOCK_NOT_FOUND", func(t *testing.T) {
		_, err := c.Call(ctx, Request{Method: http.MethodDelete, Path: "/kyc"}, nil)
		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
		assert.Equal(t, MockNotFoundCode, apiErr.Code)
	})

	t.Run("versioned path is accepted", func(t *testing.T) {
		resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/api/v1/kyc"})
		require.NoError(t, err)
		assert.True(t, resp.Mocked)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestClient_SetLiveSwitchesToNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeEnvelope(w, http.StatusOK, map[string]any{"username": "live"})
	}))
	defer srv.Close()

	c := newLiveClient(t, srv, WithLive(false))
	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "admin", me.Username)
	assert.Zero(t, hits.Load())

	c.SetLive(true)
	me, err = c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live", me.Username)
	assert.Equal(t, int32(1), hits.Load())
}

func TestMockServer_PrefersLiteralSegments(t *testing.T) {
	m := NewMockServer(
		MockRoute{Method: "GET", Path: "/integrations/:id", Body: json.RawMessage(`{"data":"one"}`)},
		MockRoute{Method: "GET", Path: "/integrations/types", Body: json.RawMessage(`{"data":"types"}`)},
	)
	assert.JSONEq(t, `{"data":"types"}`, string(m.Serve("GET", "/integrations/types").Body))
	assert.JSONEq(t, `{"data":"one"}`, string(m.Serve("get", "/integrations/abc?x=1").Body))
	assert.Equal(t, http.StatusNotFound, m.Serve("GET", "/integrations").StatusCode)
	assert.Equal(t, http.StatusNotFound, m.Serve("POST", "/integrations/types").StatusCode)
}

func TestDefaultMocks_CoverTypedCalls(t *testing.T) {
	m, err := DefaultMocks()
	require.NoError(t, err)
	routes := m.Routes()
	for _, want := range []string{
		"POST /auth/login", "POST /auth/refresh", "GET /auth/me",
		"GET /integrations", "POST /integrations", "POST /integrations/:id/connect",
		"POST /integrations/:id/disconnect", "POST /integrations/:id/sync", "POST /integrations/sync-all",
		"GET /notifications", "POST /notifications/:id/read",
		"GET /kyc", "POST /kyc/submit",
		"GET /onboarding", "POST /onboarding/steps/:key/complete",
	} {
		assert.Contains(t, routes, want)
	}
}

func TestClient_Retry(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		wantStatus   int
		wantAttempts int32
	}{
		{"recovers after 503s", []int{503, 503, 200}, 200, 3},
		{"retries 429", []int{429, 200}, 200, 2},
		{"gives up after max retries", []int{500, 500, 500, 500, 500}, 500, 4},
		{"does not retry 400", []int{400, 200}, 400, 1},
		{"does not retry 404", []int{404, 200}, 404, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				status := tt.statuses[min(n, len(tt.statuses)-1)]
				if status == http.StatusOK {
					writeEnvelope(w, status, nil)
					return
				}
				writeError(w, status, "ERR", "failure")
			}))
			defer srv.Close()

			c := newLiveClient(t, srv)
			resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/kyc"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantAttempts, calls.Load())
			assert.Equal(t, int(tt.wantAttempts), resp.Attempts)
		})
	}
}

func TestClient_RetryNonIdempotent(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		wantStatus   int
		wantAttempts int32
	}{
		{"5xx is not replayed", []int{503, 200}, 503, 1},
		{"429 is replayed", []int{429, 200}, 200, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				status := tt.statuses[min(n, len(tt.statuses)-1)]
				if status == http.StatusOK {
					writeEnvelope(w, status, nil)
					return
				}
				writeError(w, status, "ERR", "failure")
			}))
			defer srv.Close()

			c := newLiveClient(t, srv)
			resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/integrations/x/sync"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantAttempts, calls.Load())
		})
	}

	t.Run("refused connection is replayed", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		c := newLiveClient(t, srv)
		resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/integrations"})
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, fastRetry().MaxRetries+1, resp.Attempts)
	})
}

func TestClient_RetryHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "down")
	}))
	defer srv.Close()

	c := newLiveClient(t, srv, WithRetryConfig(RetryConfig{MaxRetries: 5, RetryDelay: time.Hour, MaxDelay: time.Hour}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/kyc"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_CalculateBackoff(t *testing.T) {
	c, err := New("", WithRetryConfig(RetryConfig{RetryDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}))
	require.NoError(t, err)

	for attempt, base := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 400 * time.Millisecond, 6: time.Second} {
		d := c.calculateBackoff(attempt)
		assert.GreaterOrEqual(t, d, base*3/4, "attempt %d", attempt)
		assert.LessOrEqual(t, d, base*5/4, "attempt %d", attempt)
	}
}

func TestClient_Headers(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/login" {
			assert.Empty(t, r.Header.Get("Authorization"))
			body := tokenBody("access-1", "refresh-1")
			body["user"] = map[string]any{"tenant_id": tenantID, "username": "ops"}
			writeEnvelope(w, http.StatusOK, body)
			return
		}
		got = r.Header.Clone()
		assert.Equal(t, "/api/v1/notifications", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("unread_only"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeEnvelope(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	c := newLiveClient(t, srv)
	_, err := c.Login(context.Background(), "ops", "secret")
	require.NoError(t, err)

	items, _, err := c.ListNotifications(context.Background(), NotificationListOptions{
		ListOptions: ListOptions{Page: 2},
		UnreadOnly:  true,
	})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, "Bearer access-1", got.Get("Authorization"))
	assert.Equal(t, tenantID.String(), got.Get(TenantHeader))
	assert.Equal(t, "application/json", got.Get("Accept"))
}

// refreshServer accepts only currentToken and rotates it on /auth/refresh
type refreshServer struct {
	mu            sync.Mutex
	currentToken  string
	refreshes     atomic.Int32
	failRefresh   bool
	refreshStatus int // answers /auth/refresh with this error status when set
}

func (s *refreshServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/auth/refresh" {
		s.refreshes.Add(1)
		if s.failRefresh {
			writeError(w, http.StatusUnauthorized, "ERR_TOKEN_INVALID", "refresh token revoked")
			return
		}
		if s.refreshStatus != 0 {
			writeError(w, s.refreshStatus, "ERR_UNAVAILABLE", "try later")
			return
		}
		time.Sleep(20 * time.Millisecond)
		s.mu.Lock()
		s.currentToken = "fresh"
		s.mu.Unlock()
		writeEnvelope(w, http.StatusOK, tokenBody("fresh", "refresh-2"))
		return
	}
	s.mu.Lock()
	ok := r.Header.Get("Authorization") == "Bearer "+s.currentToken
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "ERR_TOKEN_EXPIRED", "token expired")
		return
	}
	writeEnvelope(w, http.StatusOK, map[string]any{"username": "ops"})
}

func TestClient_RefreshOn401(t *testing.T) {
	t.Run("concurrent 401s share one refresh", func(t *testing.T) {
		rs := &refreshServer{currentToken: "valid-only-after-refresh"}
		srv := httptest.NewServer(rs)
		defer srv.Close()

		c := newLiveClient(t, srv)
		c.Tokens().Save(Tokens{AccessToken: "stale", RefreshToken: "refresh-1", TenantID: tenantID.String()})

		var wg sync.WaitGroup
		errs := make([]error, 10)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = c.Me(context.Background())
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, int32(1), rs.refreshes.Load())
		tokens := c.Tokens().Load()
		assert.Equal(t, "fresh", tokens.AccessToken)
		assert.Equal(t, "refresh-2", tokens.RefreshToken)
		assert.Equal(t, tenantID.String(), tokens.TenantID)
	})

	t.Run("failed refresh clears the session", func(t *testing.T) {
		rs := &refreshServer{currentToken: "unreachable", failRefresh: true}
		srv := httptest.NewServer(rs)
		defer srv.Close()

		c := newLiveClient(t, srv)
		c.Tokens().Save(Tokens{AccessToken: "stale", RefreshToken: "revoked"})

		_, err := c.Me(context.Background())
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.Equal(t, Tokens{}, c.Tokens().Load())
		assert.Equal(t, int32(1), rs.refreshes.Load())
	})

	t.Run("transient refresh failure keeps the session", func(t *testing.T) {
		rs := &refreshServer{currentToken: "unreachable", refreshStatus: http.StatusServiceUnavailable}
		srv := httptest.NewServer(rs)
		defer srv.Close()

		c := newLiveClient(t, srv)
		saved := Tokens{AccessToken: "stale", RefreshToken: "refresh-1", TenantID: tenantID.String()}
		c.Tokens().Save(saved)

		_, err := c.Me(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSessionExpired)
		assert.Equal(t, saved, c.Tokens().Load())
		assert.Equal(t, int32(1), rs.refreshes.Load())
	})

	t.Run("no refresh token returns the 401", func(t *testing.T) {
		rs := &refreshServer{currentToken: "unreachable"}
		srv := httptest.NewServer(rs)
		defer srv.Close()

		c := newLiveClient(t, srv)
		_, err := c.Me(context.Background())
		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
		assert.Equal(t, "ERR_TOKEN_EXPIRED", apiErr.Code)
		assert.Zero(t, rs.refreshes.Load())
	})
}

func TestClient_APIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"ERR_VALIDATION","message":"Validation failed","request_id":"req-1","details":[{"field":"name","message":"This field is required"}]}}`))
	}))
	defer srv.Close()

	c := newLiveClient(t, srv)
	_, err := c.CreateIntegration(context.Background(), appintegration.CreateIntegrationRequest{Type: "SAP"})
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "ERR_VALIDATION", apiErr.Code)
	assert.Equal(t, "req-1", apiErr.RequestID)
	require.Len(t, apiErr.Details, 1)
	assert.Equal(t, "name", apiErr.Details[0].Field)
	assert.Contains(t, apiErr.Error(), "Validation failed")
}

func TestClient_NonEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newLiveClient(t, srv, WithRetryConfig(RetryConfig{MaxRetries: 0}))
	_, err := c.GetKYC(context.Background())
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestFileTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scctl", "session.json")

	s, err := NewFileTokenStore(path)
	require.NoError(t, err)
	assert.Equal(t, Tokens{}, s.Load())

	s.Save(Tokens{AccessToken: "a", RefreshToken: "r", TenantID: tenantID.String()})

	reopened, err := NewFileTokenStore(path)
	require.NoError(t, err)
	assert.Equal(t, "a", reopened.Load().AccessToken)
	assert.Equal(t, tenantID.String(), reopened.Load().TenantID)

	reopened.Clear()
	again, err := NewFileTokenStore(path)
	require.NoError(t, err)
	assert.Equal(t, Tokens{}, again.Load())
}

func TestAsAPIError_Wrapped(t *testing.T) {
	err := errors.Join(errors.New("context"), &APIError{Status: 409, Code: "ERR_CONFLICT"})
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ERR_CONFLICT", apiErr.Code)

	_, ok = AsAPIError(errors.New("plain"))
	assert.False(t, ok)
}
