// Package api wires together all HTTP routes for the chainlog audit service.
//
// Route grouping philosophy:
//   - /healthz, /readyz, and /version are unauthenticated so that load
//     balancers and Kubernetes probes can reach them without credentials.
//   - Everything under /api/v1/ requires authentication (JWT or API key) and
//     passes through the middleware chain in the order
//     Security → RateLimit → Auth → Audit → Handler.
//   - Chain verification endpoints are restricted to platform admins: a
//     verification run scans the global cross-tenant chain, which a
//     tenant-bound caller must never observe.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/chainlog/chainlog/internal/api/admin"
	"github.com/chainlog/chainlog/internal/archive"
	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/config"
	"github.com/chainlog/chainlog/internal/db/repositories"
	"github.com/chainlog/chainlog/internal/jobs"
	"github.com/chainlog/chainlog/internal/middleware"

	// Import archive backends to register them via init()
	_ "github.com/chainlog/chainlog/internal/archive/local"
	_ "github.com/chainlog/chainlog/internal/archive/s3"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	verifyJob    *jobs.VerifyJob
	policyHolder *audit.PolicyHolder
	shipper      audit.Shipper
	redisClient  *redis.Client
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.verifyJob != nil {
		bg.verifyJob.Stop()
	}
	if bg.policyHolder != nil {
		if err := bg.policyHolder.Close(); err != nil {
			slog.Warn("closing policy watcher", "error", err)
		}
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("closing audit shipper", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize archive store
	archiveStore, err := archive.NewStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize archive store: %v", err)
	}
	log.Printf("Initialized archive store: %s", cfg.Archive.Backend)

	// Optional Redis client for the stats cache and cross-replica rate
	// limiting. An empty addr means both degrade gracefully.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// Initialize repositories
	eventRepo := repositories.NewEventRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)

	sqlxDB := sqlx.NewDb(db, "postgres")
	statsRepo := repositories.NewStatsRepository(sqlxDB)

	// Optional secondary shipping of appended records (SIEM, flat file)
	shipper, err := audit.NewShipper(cfg.Audit.Shippers)
	if err != nil {
		log.Fatalf("Failed to initialize audit shippers: %v", err)
	}

	var recorderOpts []audit.RecorderOption
	if shipper != nil {
		recorderOpts = append(recorderOpts, audit.WithShipper(shipper))
	}
	recorder := audit.NewRecorder(eventRepo, recorderOpts...)
	verifier := audit.NewVerifier(eventRepo, eventRepo)
	aggregator := audit.NewAggregator(statsRepo, redisClient)
	exporter := audit.NewExporter(eventRepo)

	// Report policy, hot-reloaded from disk when a policy file is configured
	policyHolder := audit.NewPolicyHolder(audit.DefaultPolicy())
	if cfg.Audit.PolicyFile != "" {
		if err := policyHolder.WatchFile(cfg.Audit.PolicyFile); err != nil {
			log.Fatalf("Failed to load audit policy %s: %v", cfg.Audit.PolicyFile, err)
		}
		log.Printf("Watching audit policy file: %s", cfg.Audit.PolicyFile)
	}
	reporter := audit.NewReporter(statsRepo, policyHolder)

	archiver := archive.NewArchiver(archiveStore, reporter, exporter)

	// Background incremental verification of the hash chain
	verifyJob := jobs.NewVerifyJob(verifier, &cfg.Audit.VerifyJob)
	verifyJob.Start(context.Background())

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/healthz", healthCheckHandler(db))

	// Readiness check endpoint (includes archive store probe)
	router.GET("/readyz", readinessHandler(db, archiveStore))

	// API version
	router.GET("/version", versionHandler())

	// Handlers
	eventsHandler := admin.NewEventsHandler(eventRepo, recorder, exporter)
	verifyHandler := admin.NewVerifyHandler(verifier)
	statsHandler := admin.NewStatsHandler(aggregator)
	reportHandler := admin.NewReportHandler(reporter)
	archiveHandler := admin.NewArchiveHandler(archiver, recorder)
	apiKeysHandler := admin.NewAPIKeysHandler(apiKeyRepo, recorder)

	var rateLimiters []*middleware.RateLimiter

	apiV1 := router.Group("/api/v1")
	if cfg.Security.RateLimiting.Enabled {
		if cfg.Security.RateLimiting.UseRedis {
			apiV1.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.Security.RateLimiting.RequestsPerMinute))
		} else {
			limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
				RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
				BurstSize:         cfg.Security.RateLimiting.Burst,
				CleanupInterval:   5 * time.Minute,
			})
			rateLimiters = append(rateLimiters, limiter)
			apiV1.Use(middleware.RateLimitMiddleware(limiter))
		}
	}
	apiV1.Use(middleware.AuthMiddleware(apiKeyRepo))
	apiV1.Use(middleware.AuditCaptureMiddleware(recorder))

	auditRoutes := apiV1.Group("/audit")
	{
		auditRoutes.GET("/events", eventsHandler.ListEvents)
		auditRoutes.POST("/events", eventsHandler.AppendEvent)
		auditRoutes.GET("/events/:id", eventsHandler.GetEvent)
		auditRoutes.GET("/export", eventsHandler.ExportEvents)
		auditRoutes.GET("/stats", statsHandler.GetStats)
		auditRoutes.GET("/report", reportHandler.GetReport)
		auditRoutes.POST("/archive", archiveHandler.Archive)

		// Verification scans the global chain across all tenants
		auditRoutes.GET("/verify", middleware.RequirePlatformAdmin(), verifyHandler.Verify)
		auditRoutes.POST("/verify/next", middleware.RequirePlatformAdmin(), verifyHandler.VerifyNext)
	}

	adminRoutes := apiV1.Group("/admin")
	{
		adminRoutes.GET("/apikeys", apiKeysHandler.ListAPIKeys)
		adminRoutes.POST("/apikeys", apiKeysHandler.CreateAPIKey)
		adminRoutes.DELETE("/apikeys/:id", apiKeysHandler.DeleteAPIKey)
	}

	bg := &BackgroundServices{
		verifyJob:    verifyJob,
		policyHolder: policyHolder,
		shipper:      shipper,
		redisClient:  redisClient,
		rateLimiters: rateLimiters,
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /healthz [get]
// healthCheckHandler returns the health status of the service
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

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database and archive store connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /readyz [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/healthz), this also checks the archive store so
// that a Kubernetes readiness gate fails when archive requests would error.
func readinessHandler(db *sql.DB, store archive.Store) gin.HandlerFunc {
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

		// Check archive store — probe with a known-absent sentinel path.
		// Exists() exercises authentication and network connectivity without
		// creating any state.
		if _, err := store.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["archive"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "archive store not ready",
			})
			return
		}
		checks["archive"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
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
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
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
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
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
