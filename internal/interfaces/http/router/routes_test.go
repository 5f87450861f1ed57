package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplychain/backend/internal/infrastructure/auth"
	"github.com/supplychain/backend/internal/infrastructure/config"
	"github.com/supplychain/backend/internal/interfaces/http/handler"
	"github.com/supplychain/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestEngine mounts handlers without services; only routes that fail
// before reaching a service are exercised.
func newTestEngine(t *testing.T, httpCfg config.HTTPConfig) (*gin.Engine, *auth.JWTService) {
	t.Helper()
	jwt := auth.NewJWTService(config.JWTConfig{
		Secret:                "router-test-secret-at-least-32-chars",
		AccessTokenExpiration: time.Minute,
	})
	engine := NewEngine(EngineConfig{HTTP: httpCfg, ServiceName: "supplychain-test"})
	Mount(engine, Handlers{
		System:       handler.NewSystemHandler("test", nil),
		Auth:         handler.NewAuthHandler(nil),
		Integration:  handler.NewIntegrationHandler(nil),
		Notification: handler.NewNotificationHandler(nil),
		KYC:          handler.NewKYCHandler(nil),
		Onboarding:   handler.NewOnboardingHandler(nil),
	}, jwt, nil)
	return engine, jwt
}

func bearer(t *testing.T, jwt *auth.JWTService, role string) string {
	t.Helper()
	pair, err := jwt.GenerateTokenPair(auth.Subject{TenantID: uuid.New(), UserID: uuid.New(), Username: "u", Role: role})
	require.NoError(t, err)
	return middleware.BearerPrefix + pair.AccessToken
}

func serve(engine http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(middleware.AuthHeaderKey, token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestMount(t *testing.T) {
	engine, jwt := newTestEngine(t, config.HTTPConfig{MaxBodySize: 1 << 20})

	t.Run("health is public", func(t *testing.T) {
		w := serve(engine, http.MethodGet, "/health", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	})

	t.Run("login and refresh skip auth", func(t *testing.T) {
		for _, path := range []string{"/api/v1/auth/login", "/api/v1/auth/refresh"} {
			w := serve(engine, http.MethodPost, path, "", "{}")
			assert.Equal(t, http.StatusBadRequest, w.Code, path)
		}
	})

	t.Run("everything else needs a token", func(t *testing.T) {
		for _, route := range [][2]string{
			{http.MethodGet, "/api/v1/auth/me"},
			{http.MethodGet, "/api/v1/integrations"},
			{http.MethodGet, "/api/v1/integrations/types"},
			{http.MethodPost, "/api/v1/integrations/sync-all"},
			{http.MethodGet, "/api/v1/notifications"},
			{http.MethodGet, "/api/v1/kyc"},
			{http.MethodGet, "/api/v1/onboarding"},
		} {
			w := serve(engine, route[0], route[1], "", "")
			assert.Equal(t, http.StatusUnauthorized, w.Code, route[1])
		}
	})

	t.Run("authenticated static route", func(t *testing.T) {
		w := serve(engine, http.MethodGet, "/api/v1/integrations/types", bearer(t, jwt, "BUYER"), "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("param routes coexist with static ones", func(t *testing.T) {
		w := serve(engine, http.MethodGet, "/api/v1/integrations/not-a-uuid", bearer(t, jwt, "BUYER"), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("kyc review is admin only", func(t *testing.T) {
		path := "/api/v1/kyc/" + uuid.NewString() + "/approve"
		w := serve(engine, http.MethodPost, path, bearer(t, jwt, "SUPPLIER"), "")
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = serve(engine, http.MethodPost, "/api/v1/kyc/acme/approve", bearer(t, jwt, "ADMIN"), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = serve(engine, http.MethodGet, "/api/v1/kyc/pending", bearer(t, jwt, "BUYER"), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		w := serve(engine, http.MethodGet, "/api/v2/integrations", "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestNewEngine_RateLimit(t *testing.T) {
	engine, _ := newTestEngine(t, config.HTTPConfig{
		RateLimitEnabled:  true,
		RateLimitRequests: 2,
		RateLimitWindow:   time.Hour,
	})
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(engine, http.MethodGet, "/health", "", "").Code)
}

func TestNewEngine_BodyLimit(t *testing.T) {
	engine, _ := newTestEngine(t, config.HTTPConfig{MaxBodySize: 8})
	w := serve(engine, http.MethodPost, "/api/v1/auth/login", "", `{"username":"someone","password":"secret"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
