package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/identity"
	"github.com/supplychain/backend/internal/infrastructure/config"
	"github.com/supplychain/backend/internal/infrastructure/logger"
	"github.com/supplychain/backend/internal/infrastructure/telemetry"
	"github.com/supplychain/backend/internal/interfaces/http/handler"
	"github.com/supplychain/backend/internal/interfaces/http/middleware"
)

// EngineConfig configures the global middleware chain
type EngineConfig struct {
	HTTP           config.HTTPConfig
	ServiceName    string
	TracingEnabled bool
	MeterProvider  *telemetry.MeterProvider
	// RateLimiter is used when HTTP.RateLimitEnabled is set; nil builds one from HTTP
	RateLimiter *middleware.RateLimiter
	Logger      *zap.Logger
}

// NewEngine builds a gin engine with the global middleware in order:
// request id, tracing, request logging, recovery, metrics, CORS, body
// limit and rate limit.
func NewEngine(cfg EngineConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			cfg.Logger.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
			_ = engine.SetTrustedProxies(nil)
		}
	} else {
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(middleware.RequestID())
	engine.Use(middleware.Tracing(cfg.ServiceName, cfg.TracingEnabled))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(logger.GinMiddleware(cfg.Logger))
	engine.Use(logger.Recovery(cfg.Logger))
	engine.Use(middleware.HTTPMetrics(cfg.MeterProvider))

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		cors.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}
	engine.Use(middleware.CORSWithConfig(cors))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if cfg.HTTP.RateLimitEnabled {
		limiter := cfg.RateLimiter
		if limiter == nil {
			limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow, cfg.HTTP.RateLimitBurst)
		}
		engine.Use(middleware.RateLimit(limiter))
	}
	return engine
}

// Handlers are the API handlers mounted by Mount
type Handlers struct {
	System       *handler.SystemHandler
	Auth         *handler.AuthHandler
	Integration  *handler.IntegrationHandler
	Notification *handler.NotificationHandler
	KYC          *handler.KYCHandler
	Onboarding   *handler.OnboardingHandler
}

// Mount registers /health and the /api/v1 route table. Everything under
// /api/v1 except login and refresh requires a valid access token.
func Mount(engine *gin.Engine, h Handlers, validator middleware.AccessTokenValidator, log *zap.Logger) {
	engine.GET("/health", h.System.Health)

	r := NewRouter(engine, WithAPIVersion("v1"))
	r.RegisterPublic(NewDomainGroup("/auth").
		POST("/login", h.Auth.Login).
		POST("/refresh", h.Auth.Refresh))

	r.Use(middleware.JWTAuth(validator, log), middleware.SpanEnricher())

	r.Register(NewDomainGroup("/auth").
		GET("/me", h.Auth.Me))

	r.Register(NewDomainGroup("/integrations").
		GET("/types", h.Integration.ListTypes).
		GET("", h.Integration.List).
		POST("", h.Integration.Create).
		POST("/connect-all", h.Integration.ConnectAll).
		POST("/sync-all", h.Integration.SyncAll).
		POST("/disconnect-all", h.Integration.DisconnectAll).
		GET("/:id", h.Integration.Get).
		PUT("/:id", h.Integration.Update).
		DELETE("/:id", h.Integration.Delete).
		POST("/:id/connect", h.Integration.Connect).
		POST("/:id/disconnect", h.Integration.Disconnect).
		POST("/:id/test", h.Integration.Test).
		POST("/:id/sync", h.Integration.Sync).
		GET("/:id/runs", h.Integration.ListRuns).
		GET("/:id/runs/:run_id", h.Integration.GetRun).
		GET("/:id/records", h.Integration.ListRecords))

	r.Register(NewDomainGroup("/notifications").
		GET("", h.Notification.List).
		GET("/unread-count", h.Notification.UnreadCount).
		POST("/read-all", h.Notification.MarkAllRead).
		POST("/:id/read", h.Notification.MarkRead))

	admin := middleware.RequireRole(string(identity.RoleAdmin))
	r.Register(NewDomainGroup("/kyc").
		GET("", h.KYC.Get).
		POST("/start", h.KYC.Start).
		PUT("/details", h.KYC.UpdateDetails).
		POST("/documents/upload-url", h.KYC.UploadURL).
		POST("/documents", h.KYC.AddDocument).
		POST("/submit", h.KYC.Submit).
		POST("/reopen", h.KYC.Reopen).
		GET("/pending", admin, h.KYC.ListPending).
		POST("/:tenant_id/approve", admin, h.KYC.Approve).
		POST("/:tenant_id/reject", admin, h.KYC.Reject))

	r.Register(NewDomainGroup("/onboarding").
		GET("", h.Onboarding.Get).
		GET("/flows", h.Onboarding.Flows).
		POST("/start", h.Onboarding.Start).
		POST("/steps/:key/complete", h.Onboarding.CompleteStep).
		POST("/steps/:key/skip", h.Onboarding.SkipStep).
		POST("/goto", h.Onboarding.GoTo).
		POST("/next", h.Onboarding.Next).
		POST("/previous", h.Onboarding.Previous).
		POST("/reset", h.Onboarding.Reset))

	r.Setup()
}
