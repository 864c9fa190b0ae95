// Package api wires the HTTP surface of the proposal service.
//
// Route grouping philosophy:
//   - /health and /ready are unauthenticated so load balancers and Kubernetes
//     probes work without credentials.
//   - Everything under /api/v1 requires a bearer token. The token's
//     {user_id, role} claims are trusted verbatim; identity is owned by the
//     system in front of this service.
//   - /api/v1/admin/* additionally requires the admin role. Administrators
//     have no per-proposal set-status endpoint: review decisions go through
//     the bulk endpoint, which carries a stricter rate limit.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/partnerhub/partnerhub/internal/audit"
	"github.com/partnerhub/partnerhub/internal/config"
	"github.com/partnerhub/partnerhub/internal/db/repositories"
	"github.com/partnerhub/partnerhub/internal/drafts"
	"github.com/partnerhub/partnerhub/internal/identifier"
	"github.com/partnerhub/partnerhub/internal/jobs"
	"github.com/partnerhub/partnerhub/internal/lifecycle"
	"github.com/partnerhub/partnerhub/internal/middleware"
	"github.com/partnerhub/partnerhub/internal/notify"
	redisplatform "github.com/partnerhub/partnerhub/internal/platform/redis"
	"github.com/partnerhub/partnerhub/internal/safego"
)

// BackgroundServices holds background jobs and resources that must be stopped
// during graceful shutdown. The caller (cmd/server) calls Shutdown() after
// the HTTP server has drained in-flight requests.
type BackgroundServices struct {
	outboxDispatcher *jobs.OutboxDispatcher
	expirer          *jobs.NotificationExpirer
	limiters         []middleware.Limiter
	auditShipper     audit.Shipper
}

// Shutdown stops all background goroutines and flushes the audit shipper.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.outboxDispatcher != nil {
		bg.outboxDispatcher.Stop()
	}
	if bg.expirer != nil {
		bg.expirer.Stop()
	}
	for _, l := range bg.limiters {
		l.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("closing audit shipper", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates the Gin router with the full proposal surface wired up.
// redisClient may be nil, in which case the draft store and rate limiting
// fall back to process-local implementations.
func NewRouter(cfg *config.Config, db *sqlx.DB, redisClient *redisplatform.Client) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	// Repositories. The audit repository keeps the plain database/sql
	// interface; everything else uses sqlx.
	proposalRepo := repositories.NewProposalRepository(db)
	auditRepo := repositories.NewAuditRepository(db.DB)
	notificationRepo := repositories.NewNotificationRepository(db)
	outboxRepo := repositories.NewOutboxRepository(db)

	// Draft store: shared Redis when configured, otherwise a process-local
	// map that is only safe for a single instance.
	var draftStore drafts.Store
	if redisClient != nil {
		draftStore = drafts.NewRedisStore(redisClient.Client, cfg.Drafts.KeyPrefix)
		slog.Info("draft store backed by redis", "key_prefix", cfg.Drafts.KeyPrefix)
	} else {
		draftStore = drafts.NewMemoryStore()
		slog.Warn("draft store is in-memory; drafts will not survive restarts or be shared across instances")
	}
	draftSvc := drafts.NewService(draftStore, cfg.Drafts.TTL, slog.Default())

	resolver := identifier.NewResolver(proposalRepo)
	engine := lifecycle.NewEngine(proposalRepo, slog.Default())

	// Audit writer with optional external shipping.
	var shipper audit.Shipper
	if len(cfg.Audit.Shippers) > 0 {
		ms, err := audit.NewMultiShipper(cfg.Audit.Shippers)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing audit shippers: %w", err)
		}
		shipper = ms
	}
	auditor := audit.NewWriter(auditRepo, shipper, slog.Default(), cfg.Audit.Enabled)

	// Notification dispatcher. The in-app row is the source of truth; email
	// is a best-effort second channel.
	var mailer notify.Mailer
	if cfg.Notifications.EmailEnabled {
		if m := notify.NewSMTPMailer(&cfg.Notifications.SMTP); m != nil {
			mailer = m
		} else {
			slog.Warn("email notifications enabled but smtp host is empty; email channel disabled")
		}
	}
	dispatcher := notify.NewDispatcher(notificationRepo, mailer, slog.Default(), cfg.Notifications.DefaultTTL)

	// Background jobs.
	outboxDispatcher := jobs.NewOutboxDispatcher(outboxRepo, proposalRepo, auditor, dispatcher, cfg.Outbox, slog.Default())
	safego.Go(func() { outboxDispatcher.Start(context.Background()) })

	expirer := jobs.NewNotificationExpirer(notificationRepo, &cfg.Notifications, slog.Default())
	safego.Go(func() { expirer.Start(context.Background()) })

	// Rate limiters: distributed when Redis is available.
	generalLimiter := newLimiter(redisClient, middleware.RateLimitConfig{
		RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
		BurstSize:         cfg.Security.RateLimiting.Burst,
		CleanupInterval:   5 * time.Minute,
	})
	bulkLimiter := newLimiter(redisClient, middleware.BulkRateLimitConfig())

	// Middleware chain; ordering documented in the middleware package.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	if cfg.Server.RequestTimeout > 0 {
		router.Use(middleware.TimeoutMiddleware(cfg.Server.RequestTimeout))
	}

	router.GET("/health", healthHandler(db))
	router.GET("/ready", readinessHandler(db, redisClient))
	router.GET("/version", versionHandler())

	draftHandlers := NewDraftHandlers(draftSvc)
	proposalHandlers := NewProposalHandlers(proposalRepo, draftSvc, engine, resolver, auditor)
	adminHandlers := NewAdminHandlers(engine, resolver)
	notificationHandlers := NewNotificationHandlers(notificationRepo)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware())
	if cfg.Security.RateLimiting.Enabled {
		apiV1.Use(middleware.RateLimitMiddleware(generalLimiter))
	}
	{
		// Draft surface. Draft ids never touch the database; legacy labels
		// are migrated inside the draft service.
		apiV1.POST("/proposals/drafts", draftHandlers.CreateDraft)
		apiV1.GET("/proposals/drafts", draftHandlers.ListDrafts)
		apiV1.GET("/proposals/drafts/:id", draftHandlers.GetDraft)
		apiV1.PATCH("/proposals/drafts/:id/:section", draftHandlers.PatchSection)
		apiV1.POST("/proposals/drafts/:id/event-type", draftHandlers.SetEventType)
		apiV1.POST("/proposals/drafts/:id/submit", draftHandlers.SubmitDraft)
		apiV1.DELETE("/proposals/drafts/:id", draftHandlers.DeleteDraft)

		// Proposal surface. :id accepts public UUIDs and surrogate integers;
		// classification happens once at the boundary.
		apiV1.POST("/proposals", proposalHandlers.CreateProposal)
		apiV1.GET("/proposals", proposalHandlers.ListProposals)
		apiV1.GET("/proposals/:id", proposalHandlers.GetProposal)
		apiV1.PATCH("/proposals/:id/sections/:section", proposalHandlers.SaveSection)
		apiV1.POST("/proposals/:id/files", proposalHandlers.AttachFile)
		apiV1.POST("/proposals/:id/report/submit", proposalHandlers.SubmitReport)
		apiV1.GET("/proposals/:id/audit",
			middleware.RequireRole(middleware.RoleAdmin),
			proposalHandlers.ListAudit)

		// Notification surface.
		apiV1.GET("/notifications", notificationHandlers.List)
		apiV1.POST("/notifications/:id/read", notificationHandlers.MarkRead)
		apiV1.POST("/notifications/:id/archive", notificationHandlers.Archive)

		// Admin surface.
		adminGroup := apiV1.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
		{
			adminGroup.POST("/proposals/bulk-status",
				middleware.RateLimitMiddleware(bulkLimiter),
				adminHandlers.BulkStatus)
			adminGroup.POST("/proposals/:id/report/review", adminHandlers.ReviewReport)
		}
	}

	bg := &BackgroundServices{
		outboxDispatcher: outboxDispatcher,
		expirer:          expirer,
		limiters:         []middleware.Limiter{generalLimiter, bulkLimiter},
		auditShipper:     shipper,
	}

	return router, bg, nil
}

// newLimiter picks the distributed limiter when Redis is available.
func newLimiter(redisClient *redisplatform.Client, cfg middleware.RateLimitConfig) middleware.Limiter {
	if cfg.RequestsPerMinute <= 0 {
		defaults := middleware.DefaultRateLimitConfig()
		cfg.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = middleware.DefaultRateLimitConfig().BurstSize
	}
	if redisClient != nil {
		return middleware.NewRedisLimiter(redisClient.Client, cfg)
	}
	return middleware.NewRateLimiter(cfg)
}

// healthHandler reports liveness: the process is up and the database answers.
func healthHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler reports readiness: database plus, when configured, the
// shared draft store. A dead Redis means drafts cannot be served, so the
// instance should be pulled from rotation.
func readinessHandler(db *sqlx.DB, redisClient *redisplatform.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if redisClient != nil {
			if err := redisClient.Health(c.Request.Context()); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "draft store not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware emits one structured log record per request. Output format
// (json or text) follows the global handler configured in telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.RequestID(c)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware reflects allowed origins from configuration.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
