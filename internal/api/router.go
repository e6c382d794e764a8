// Package api wires together all HTTP routes for the AeroDocs backend.
//
// Route grouping philosophy:
//   - /health, /ready, and /version are unauthenticated so load balancers and
//     Kubernetes probes can reach them without credentials.
//   - /api/v1/auth holds the login surface: password login and the OIDC code
//     flow are unauthenticated by nature; logout and /me sit behind the auth
//     middleware so the audit trail gets a real actor.
//   - Everything else under /api/v1 requires a bearer token. Role checks are
//     layered per group: reviewer routes (approvals, audit stats, exports)
//     add RequireReviewer, admin routes add RequireAdmin.
package api

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/aerodocs/aerodocs/internal/api/admin"
	"github.com/aerodocs/aerodocs/internal/api/auditlog"
	"github.com/aerodocs/aerodocs/internal/api/documents"
	"github.com/aerodocs/aerodocs/internal/api/pilots"
	"github.com/aerodocs/aerodocs/internal/api/session"
	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/db/repositories"
	"github.com/aerodocs/aerodocs/internal/jobs"
	"github.com/aerodocs/aerodocs/internal/middleware"
	"github.com/aerodocs/aerodocs/internal/storage"

	// Import storage backends to register them
	_ "github.com/aerodocs/aerodocs/internal/storage/azure"
	_ "github.com/aerodocs/aerodocs/internal/storage/gcs"
	_ "github.com/aerodocs/aerodocs/internal/storage/local"
	_ "github.com/aerodocs/aerodocs/internal/storage/s3"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	retentionJob   *jobs.AuditRetentionJob
	expiryNotifier *jobs.DocumentExpiryNotifier
	rateLimiters   []middleware.Limiter
	shipper        *audit.MultiShipper
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained
// first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	if bg.expiryNotifier != nil {
		bg.expiryNotifier.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Error("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Initialize storage backend
	storageBackend, err := storage.NewBackend(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	// Audit trail shipping and recorder
	shipper, err := audit.NewMultiShipper(shipperConfigs(cfg.Audit.Shippers))
	if err != nil {
		log.Fatalf("Failed to initialize audit shippers: %v", err)
	}
	bg.shipper = shipper
	sqlxDB := sqlx.NewDb(db, "postgres")
	recorder := audit.NewRecorder(sqlxDB, shipper, cfg.Audit.Enabled)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(sqlxDB, recorder)
	pilotRepo := repositories.NewPilotRepository(sqlxDB, recorder)
	docRepo := repositories.NewDocumentRepository(sqlxDB, recorder)
	auditRepo := repositories.NewAuditRepository(sqlxDB)

	// Initialize handlers
	sessionHandlers, err := session.NewHandlers(cfg, userRepo, recorder)
	if err != nil {
		log.Fatalf("Failed to initialize session handlers: %v", err)
	}
	docHandlers := documents.NewHandlers(cfg, docRepo, pilotRepo, recorder, storageBackend)
	pilotHandlers := pilots.NewHandlers(pilotRepo, userRepo, storageBackend)
	auditHandlers := auditlog.NewHandlers(cfg, auditRepo, recorder)
	adminHandlers := admin.NewHandlers(cfg, userRepo, pilotRepo, docRepo, auditRepo, recorder)

	// Background jobs
	retentionJob := jobs.NewAuditRetentionJob(auditRepo, recorder, &cfg.Audit)
	go retentionJob.Start(contextForJobs())
	bg.retentionJob = retentionJob

	expiryNotifier := jobs.NewDocumentExpiryNotifier(docRepo, pilotRepo, userRepo, &cfg.Notifications)
	go expiryNotifier.Start(contextForJobs())
	bg.expiryNotifier = expiryNotifier

	// Global middleware. Ordering matters: the request ID must exist before
	// metrics/logging run, and security headers apply to every response
	// including errors.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Probes and version
	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, storageBackend))
	router.GET("/version", versionHandler())

	// Rate limiters. The login surface gets a stricter limiter than the
	// general API so password guessing is throttled independently.
	apiLimiter := middleware.NewLimiterFromConfig(cfg.Security.RateLimiting)
	if apiLimiter != nil {
		bg.rateLimiters = append(bg.rateLimiters, apiLimiter)
	}
	var authLimiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		authLimiter = middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
		bg.rateLimiters = append(bg.rateLimiters, authLimiter)
	}

	// Unauthenticated auth surface
	authGroup := router.Group("/api/v1/auth")
	authGroup.Use(middleware.RateLimitMiddleware(authLimiter))
	{
		authGroup.POST("/login", sessionHandlers.LoginHandler())
		authGroup.GET("/oidc/login", sessionHandlers.OIDCLoginHandler())
		authGroup.GET("/oidc/callback", sessionHandlers.OIDCCallbackHandler())
	}

	// Everything below requires a bearer token
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimitMiddleware(apiLimiter))
	v1.Use(middleware.AuthMiddleware(userRepo))
	{
		v1.POST("/auth/logout", sessionHandlers.LogoutHandler())
		v1.GET("/auth/me", sessionHandlers.MeHandler())

		v1.POST("/documents", docHandlers.UploadHandler())
		v1.GET("/documents", docHandlers.ListHandler())
		v1.GET("/documents/:id", docHandlers.GetHandler())
		v1.PUT("/documents/:id", docHandlers.UpdateHandler())
		v1.DELETE("/documents/:id", docHandlers.DeleteHandler())
		v1.GET("/documents/:id/download", docHandlers.DownloadHandler())
		v1.POST("/documents/:id/approve", middleware.RequireReviewer(), docHandlers.ApproveHandler())
		v1.POST("/documents/:id/reject", middleware.RequireReviewer(), docHandlers.RejectHandler())

		// Files referenced by local-backend signed URLs
		v1.GET("/files/*filepath", docHandlers.ServeFileHandler())

		v1.GET("/pilots", middleware.RequireReviewer(), pilotHandlers.ListHandler())
		v1.POST("/pilots", middleware.RequireAdmin(), pilotHandlers.CreateHandler())
		v1.GET("/pilots/me", pilotHandlers.MeHandler())
		v1.GET("/pilots/:id", pilotHandlers.GetHandler())
		v1.PUT("/pilots/:id", pilotHandlers.UpdateHandler())
		v1.DELETE("/pilots/:id", middleware.RequireAdmin(), pilotHandlers.DeleteHandler())

		v1.GET("/audit", auditHandlers.ListHandler())
		v1.GET("/audit/stats", middleware.RequireReviewer(), auditHandlers.StatsHandler())
		v1.GET("/audit/export", middleware.RequireReviewer(), auditHandlers.ExportHandler())
		v1.GET("/audit/:id", auditHandlers.GetHandler())

		adminGroup := v1.Group("/admin")
		adminGroup.Use(middleware.RequireAdmin())
		{
			adminGroup.GET("/users", adminHandlers.ListUsersHandler())
			adminGroup.POST("/users", adminHandlers.CreateUserHandler())
			adminGroup.GET("/users/:id", adminHandlers.GetUserHandler())
			adminGroup.PUT("/users/:id/role", adminHandlers.UpdateRoleHandler())

			adminGroup.GET("/stats/dashboard", adminHandlers.DashboardHandler())
			adminGroup.DELETE("/audit", adminHandlers.PurgeAuditHandler())
			adminGroup.GET("/audit/columns", adminHandlers.ExportColumnsHandler())
		}
	}

	return router, bg
}

// contextForJobs returns the context background jobs run under. Jobs stop via
// their own Stop() during shutdown, so the plain background context is fine.
func contextForJobs() context.Context {
	return context.Background()
}

// shipperConfigs converts the viper-bound shipper configuration into the
// audit package's config type.
func shipperConfigs(configs []config.AuditShipperConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(configs))
	for _, c := range configs {
		sc := audit.ShipperConfig{
			Enabled: c.Enabled,
			Type:    c.Type,
		}
		if c.Webhook != nil {
			sc.Webhook = &audit.WebhookConfig{
				URL:           c.Webhook.URL,
				Headers:       c.Webhook.Headers,
				Timeout:       time.Duration(c.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     c.Webhook.BatchSize,
				FlushInterval: time.Duration(c.Webhook.FlushInterval) * time.Second,
			}
		}
		if c.File != nil {
			sc.File = &audit.FileConfig{
				Path:       c.File.Path,
				MaxSizeMB:  c.File.MaxSizeMB,
				MaxBackups: c.File.MaxBackups,
			}
		}
		out = append(out, sc)
	}
	return out
}

// @Summary      Health check
// @Description  Liveness probe. Verifies the database connection.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /health [get]
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
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

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend
// so that a Kubernetes readiness gate fails when uploads/downloads would
// error.
func readinessHandler(db *sql.DB, storageBackend storage.Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Check storage backend — probe with a known-absent sentinel path.
		// Exists() exercises authentication and network connectivity without
		// creating any state.
		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging via slog
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
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
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
