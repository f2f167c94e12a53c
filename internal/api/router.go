// Package api wires the HTTP surface: router construction, the middleware
// chain, and the background jobs whose lifecycle is tied to the server's.
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

	alertapi "github.com/technically-fit/trust-engine/internal/api/alerts"
	apikeyapi "github.com/technically-fit/trust-engine/internal/api/apikeys"
	detectionapi "github.com/technically-fit/trust-engine/internal/api/detection"
	eventsapi "github.com/technically-fit/trust-engine/internal/api/events"
	moderationapi "github.com/technically-fit/trust-engine/internal/api/moderation"

	"github.com/technically-fit/trust-engine/internal/alerts"
	"github.com/technically-fit/trust-engine/internal/audit"
	"github.com/technically-fit/trust-engine/internal/auth"
	"github.com/technically-fit/trust-engine/internal/config"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
	"github.com/technically-fit/trust-engine/internal/detection"
	"github.com/technically-fit/trust-engine/internal/jobs"
	"github.com/technically-fit/trust-engine/internal/middleware"
	"github.com/technically-fit/trust-engine/internal/moderation"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	retentionSweeper *jobs.RetentionSweeper
	anomalyScan      *jobs.AnomalyScan
	alertNotifier    *jobs.AlertNotifier
	shipper          audit.Shipper
	rateLimiters     []middleware.Limiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionSweeper != nil {
		bg.retentionSweeper.Stop()
	}
	if bg.anomalyScan != nil {
		bg.anomalyScan.Stop()
	}
	if bg.alertNotifier != nil {
		bg.alertNotifier.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Error("audit shipper close failed", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize repositories
	auditRepo := repositories.NewAuditRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)

	// Wrap *sql.DB with sqlx for the moderation repository
	sqlxDB := sqlx.NewDb(db, "postgres")
	moderationRepo := repositories.NewModerationRepository(sqlxDB)

	// Initialize audit shipping (file / webhook / S3 destinations)
	shipper, err := audit.NewMultiShipper(shipperConfigs(cfg.Audit.Shippers))
	if err != nil {
		log.Fatalf("Failed to initialize audit shippers: %v", err)
	}

	// Core services. The recorder is the single append path; the alert
	// manager hangs off it so high/critical events raise alerts on write.
	alertManager := alerts.NewManager(alertRepo)
	recorder := audit.NewRecorder(auditRepo, alertManager, shipper)
	queue := moderation.NewQueue(moderationRepo)
	detector := detection.NewDetector(auditRepo, recorder, policyFromConfig(&cfg.Detection.Thresholds))

	// Background jobs
	retentionSweeper := jobs.NewRetentionSweeper(auditRepo, &cfg.Audit.Retention)
	go retentionSweeper.Start(context.Background())

	anomalyScan := jobs.NewAnomalyScan(detector, recorder, alertManager, &cfg.Detection.Scan)
	go anomalyScan.Start(context.Background())

	alertNotifier := jobs.NewAlertNotifier(alertRepo, &cfg.Notifications)
	go alertNotifier.Start(context.Background())

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db))

	// API version
	router.GET("/version", versionHandler())

	// Handlers
	eventsHandler := eventsapi.NewHandler(recorder, auditRepo)
	alertsHandler := alertapi.NewHandler(alertManager)
	moderationHandler := moderationapi.NewHandler(queue)
	detectionHandler := detectionapi.NewHandler(detector, alertManager)
	apiKeysHandler := apikeyapi.NewHandler(apiKeyRepo)

	// Rate limiters. The ingest limiter is wider: machine callers append
	// events in bursts.
	bg := &BackgroundServices{
		retentionSweeper: retentionSweeper,
		anomalyScan:      anomalyScan,
		alertNotifier:    alertNotifier,
		shipper:          shipper,
	}

	apiLimiter := middleware.NewLimiterFromConfig(&cfg.Security.RateLimiting)
	ingestCfg := middleware.IngestRateLimitConfig()
	ingestLimiter := middleware.NewLimiterFromConfig(&config.RateLimitingConfig{
		Enabled:           cfg.Security.RateLimiting.Enabled,
		RequestsPerMinute: ingestCfg.RequestsPerMinute,
		Burst:             ingestCfg.BurstSize,
		Backend:           cfg.Security.RateLimiting.Backend,
		Redis:             cfg.Security.RateLimiting.Redis,
	})
	bg.rateLimiters = append(bg.rateLimiters, apiLimiter, ingestLimiter)

	// rateLimit resolves to a no-op when limiting is disabled in config.
	rateLimit := func(l middleware.Limiter) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(l)
	}

	// Authenticated API. Auth and audit capture apply to the whole group;
	// rate limiting and scope checks are attached per route so the ingest
	// path can carry its own limiter.
	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(apiKeyRepo))
	v1.Use(middleware.AuditCaptureMiddleware(recorder, &cfg.Audit))

	events := v1.Group("/events")
	{
		events.POST("",
			rateLimit(ingestLimiter),
			middleware.RequireScope(auth.ScopeEventsWrite),
			eventsHandler.Append)
		events.GET("",
			rateLimit(apiLimiter),
			middleware.RequireScope(auth.ScopeEventsRead),
			eventsHandler.Query)
		events.GET("/statistics",
			rateLimit(apiLimiter),
			middleware.RequireScope(auth.ScopeEventsRead),
			eventsHandler.Statistics)
		events.GET("/critical",
			rateLimit(apiLimiter),
			middleware.RequireScope(auth.ScopeEventsRead),
			eventsHandler.RecentCritical)
	}

	alertRoutes := v1.Group("/alerts")
	alertRoutes.Use(rateLimit(apiLimiter))
	{
		alertRoutes.GET("/unacknowledged", middleware.RequireScope(auth.ScopeAlertsRead), alertsHandler.ListUnacknowledged)
		alertRoutes.GET("/acknowledged", middleware.RequireScope(auth.ScopeAlertsRead), alertsHandler.ListAcknowledged)
		alertRoutes.GET("/:id", middleware.RequireScope(auth.ScopeAlertsRead), alertsHandler.Get)
		alertRoutes.POST("/:id/acknowledge", middleware.RequireScope(auth.ScopeAlertsManage), alertsHandler.Acknowledge)
	}

	moderationRoutes := v1.Group("/moderation/items")
	moderationRoutes.Use(rateLimit(apiLimiter))
	{
		moderationRoutes.POST("", middleware.RequireScope(auth.ScopeModerationReview), moderationHandler.Create)
		moderationRoutes.GET("", middleware.RequireScope(auth.ScopeModerationRead), moderationHandler.List)
		moderationRoutes.GET("/:id", middleware.RequireScope(auth.ScopeModerationRead), moderationHandler.Get)
		moderationRoutes.POST("/:id/assign", middleware.RequireScope(auth.ScopeModerationReview), moderationHandler.Assign)
		moderationRoutes.POST("/:id/review", middleware.RequireScope(auth.ScopeModerationReview), moderationHandler.Review)
		moderationRoutes.POST("/:id/escalate", middleware.RequireScope(auth.ScopeModerationReview), moderationHandler.Escalate)
		moderationRoutes.POST("/:id/appeal", middleware.RequireScope(auth.ScopeModerationReview), moderationHandler.Appeal)
	}

	detectionRoutes := v1.Group("/detection")
	detectionRoutes.Use(rateLimit(apiLimiter))
	{
		detectionRoutes.POST("/scan", middleware.RequireScope(auth.ScopeDetectionRun), detectionHandler.Scan)
	}

	apiKeyRoutes := v1.Group("/apikeys")
	apiKeyRoutes.Use(rateLimit(apiLimiter))
	apiKeyRoutes.Use(middleware.RequireScope(auth.ScopeAPIKeysManage))
	{
		apiKeyRoutes.POST("", apiKeysHandler.Create)
		apiKeyRoutes.GET("", apiKeysHandler.List)
		apiKeyRoutes.GET("/:id", apiKeysHandler.Get)
		apiKeyRoutes.DELETE("/:id", apiKeysHandler.Revoke)
	}

	return router, bg
}

// policyFromConfig overlays configured thresholds on the stock policy. Zero
// config values keep the default.
func policyFromConfig(t *config.ThresholdsConfig) detection.Policy {
	p := detection.DefaultPolicy()
	if t.FailedLogins > 0 {
		p.FailedLoginThreshold = t.FailedLogins
	}
	if t.OffHoursEvents > 0 {
		p.OffHoursThreshold = t.OffHoursEvents
	}
	if t.DayStartHour > 0 {
		p.DayStartHour = t.DayStartHour
	}
	if t.DayEndHour > 0 {
		p.DayEndHour = t.DayEndHour
	}
	if t.PermissionChanges > 0 {
		p.PermissionChangeThreshold = t.PermissionChanges
	}
	if t.FinancialAccesses > 0 {
		p.FinancialAccessThreshold = t.FinancialAccesses
	}
	if t.DistinctIPs > 0 {
		p.DistinctIPThreshold = t.DistinctIPs
	}
	if t.RapidSequenceCount > 0 {
		p.RapidSequenceCount = t.RapidSequenceCount
	}
	if t.RapidSequenceMedianSecs > 0 {
		p.RapidSequenceMedianGap = time.Duration(t.RapidSequenceMedianSecs) * time.Second
	}
	if t.RateLimitPerMinute > 0 {
		p.RateLimitPerMinute = t.RateLimitPerMinute
	}
	return p
}

// shipperConfigs converts the viper-bound shipper config into the audit
// package's shipper settings.
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
		if c.S3 != nil {
			sc.S3 = &audit.S3Config{
				Bucket:          c.S3.Bucket,
				Region:          c.S3.Region,
				Prefix:          c.S3.Prefix,
				Endpoint:        c.S3.Endpoint,
				AccessKeyID:     c.S3.AccessKeyID,
				SecretAccessKey: c.S3.SecretAccessKey,
				BatchSize:       c.S3.BatchSize,
				FlushInterval:   time.Duration(c.S3.FlushInterval) * time.Second,
			}
		}
		out = append(out, sc)
	}
	return out
}

// @Summary      Health check
// @Description  Returns the liveness of the service. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
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
// @Description  Returns whether the service is ready to accept traffic. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service
func readinessHandler(db *sql.DB) gin.HandlerFunc {
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

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
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

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
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
