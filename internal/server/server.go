// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/plinthhq/plinth/internal/apikey"
	"github.com/plinthhq/plinth/internal/billing"
	"github.com/plinthhq/plinth/internal/config"
	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/health"
	"github.com/plinthhq/plinth/internal/hooks"
	"github.com/plinthhq/plinth/internal/identity"
	"github.com/plinthhq/plinth/internal/idgen"
	"github.com/plinthhq/plinth/internal/kv"
	"github.com/plinthhq/plinth/internal/logging"
	"github.com/plinthhq/plinth/internal/metrics"
	"github.com/plinthhq/plinth/internal/oauthflow"
	"github.com/plinthhq/plinth/internal/pagination"
	"github.com/plinthhq/plinth/internal/ratelimit"
	"github.com/plinthhq/plinth/internal/security"
	"github.com/plinthhq/plinth/internal/tiers"
	"github.com/plinthhq/plinth/internal/usage"
	"github.com/plinthhq/plinth/internal/validation"
	"github.com/plinthhq/plinth/internal/vault"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	kvStore   kv.Store
	dir       *directory.CachedResolver
	vault     *vault.Vault
	tiers     *tiers.Service
	oauth     *oauthflow.Service
	billing   *billing.Service
	usage     *usage.Service
	identity  *identity.Client
	healthReg *health.Registry

	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithKV sets a custom credential store (for testing)
func WithKV(store kv.Store) Option {
	return func(s *Server) {
		s.kvStore = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set kv/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Credential store (Redis if REDIS_URL set, otherwise in-memory)
	if s.kvStore == nil {
		if cfg.RedisURL != "" {
			rdb, err := kv.DialRedis(ctx, cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to redis: %w", err)
			}
			s.kvStore = rdb
			s.healthReg.Register("redis", func(ctx context.Context) health.Status {
				if _, _, err := rdb.Get(ctx, "health:probe"); err != nil {
					return health.Status{Name: "redis", Healthy: false, Detail: err.Error()}
				}
				return health.Status{Name: "redis", Healthy: true}
			})
			s.logger.Info("using Redis credential store", "url", maskDSN(cfg.RedisURL))
		} else {
			s.kvStore = kv.NewMemory()
			s.logger.Warn("using in-memory credential store; credentials do not survive restarts")
		}
	}

	// Tenant directory, served through the read cache
	s.dir = directory.NewCachedResolver(directory.NewKVStore(s.kvStore))
	s.vault = vault.New(s.kvStore, s.dir)
	s.tiers = tiers.NewService(s.dir, s.vault)

	// Subscription rows (Postgres if DATABASE_URL set, otherwise in-memory)
	var usageStore usage.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		usageStore = usage.NewPostgresStore(db)
		s.healthReg.Register("postgres", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "postgres", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "postgres", Healthy: true}
		})
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		usageStore = usage.NewMemoryStore()
		s.logger.Warn("using in-memory subscription storage")
	}
	s.usage = usage.NewService(usageStore, s.tiers)

	// Identity provider metadata mirror (optional)
	if cfg.IdentityAPIURL != "" {
		if err := security.ValidateOutboundURL(cfg.IdentityAPIURL); err != nil && cfg.IsProduction() {
			return nil, fmt.Errorf("IDENTITY_API_URL rejected: %w", err)
		}
		s.identity = identity.NewClient(cfg.IdentityAPIURL, cfg.IdentityAPISecret)
		s.logger.Info("identity metadata mirror enabled")
	} else {
		s.identity = identity.NewClient("", "")
	}

	// OAuth providers, each enabled only when configured
	var providers []oauthflow.Provider
	if cfg.GitHubClientID != "" {
		providers = append(providers, oauthflow.NewGitHubProvider(
			cfg.GitHubClientID, cfg.GitHubClientSecret,
			cfg.BaseURL+"/oauth/github/callback"))
		s.logger.Info("github oauth enabled")
	}
	if cfg.StripeClientID != "" {
		providers = append(providers, oauthflow.NewStripeProvider(
			cfg.StripeClientID, cfg.StripeSecretKey))
		s.logger.Info("stripe connect oauth enabled")
	}
	s.oauth = oauthflow.NewService(oauthflow.NewStateStore(s.kvStore), s.dir, s.vault, providers...)

	s.billing = billing.NewService(s.dir, s.vault, s.tiers, cfg.StripeSecretKey, nil)

	// Set gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides credentials in connection strings for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS: tenant frontends call these routes directly
	s.router.Use(security.CORSMiddleware([]string{s.cfg.FrontendURL}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPS * 60,
		BurstSize:         s.cfg.RateLimitRPS,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(8)
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminAuth protects the tenant-provisioning and configuration routes.
// In development an unset ADMIN_SECRET leaves them open.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsDevelopment() {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "not_configured",
				"message": "admin access not configured",
			})
			return
		}

		got := c.GetHeader("Authorization")
		want := "Bearer " + s.cfg.AdminSecret
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "admin credentials required",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.infoHandler)

	// Payment provider event intake; signature-verified, not key-authed
	hooks.NewHandler(s.cfg.StripeWebhookSecret, s.dir, s.usage, s.identity).
		RegisterRoutes(s.router)

	// OAuth account connection flows; tenant identity travels in the
	// state token, not in an API key
	oauthflow.NewHandler(s.oauth, s.cfg.FrontendURL).
		RegisterRoutes(s.router.Group(""))

	// Tenant provisioning and configuration, admin-secret protected
	admin := s.router.Group("", s.adminAuth())
	{
		admin.POST("/tenants", s.createTenantHandler)
		admin.GET("/tenants/:id", s.getTenantHandler)
		admin.GET("/tenants/:id/subscriptions", s.listSubscriptionsHandler)
		vault.NewHandler(s.vault, s.dir).RegisterRoutes(admin)
		tiers.NewHandler(s.tiers, s.dir).RegisterRoutes(admin)
		admin.POST("/config/wipe", s.wipeTenantHandler)
	}

	// Subscriber-facing API, authenticated by tenant public key with a
	// verified subject id
	api := s.router.Group("/api", apikey.Middleware(s.dir), apikey.RequireSubject())
	{
		usage.NewHandlers(s.usage).RegisterRoutes(api)
		billing.NewHandlers(s.billing, s.usage, s.cfg.FrontendURL).RegisterRoutes(api)
	}
}

// -----------------------------------------------------------------------------
// Tenant lifecycle handlers
// -----------------------------------------------------------------------------

// createTenantHandler provisions a tenant with both environment keys
// and a credential namespace in one call.
func (s *Server) createTenantHandler(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name required"})
		return
	}
	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, validation.MaxNameLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": errs.Error()})
		return
	}

	ctx := c.Request.Context()
	ten := directory.NewTenant(validation.SanitizeString(req.Name, validation.MaxNameLength))
	if err := s.dir.CreateTenant(ctx, ten); err != nil {
		logging.L(ctx).Error("tenant create failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "message": "failed to create tenant"})
		return
	}

	if _, err := s.vault.CreateNamespace(ctx, ten.ID); err != nil {
		logging.L(ctx).Error("namespace provisioning failed", "tenant", ten.ID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provision_failed", "message": "failed to provision credential namespace"})
		return
	}

	metrics.TenantsTotal.Inc()
	logging.L(ctx).Info("tenant created", "tenant", ten.ID, "name", ten.Name)
	c.JSON(http.StatusCreated, gin.H{"tenant": ten})
}

func (s *Server) getTenantHandler(c *gin.Context) {
	ten, err := s.dir.GetTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, directory.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": "failed to load tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": ten})
}

// listSubscriptionsHandler pages through a tenant's subscription rows,
// newest-signup-last, with an opaque cursor.
func (s *Server) listSubscriptionsHandler(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Param("id")
	if _, err := s.dir.GetTenant(ctx, tenantID); err != nil {
		if errors.Is(err, directory.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": "failed to load tenant"})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid cursor"})
		return
	}

	subs, next, hasMore, err := s.usage.List(ctx, tenantID, limit, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list subscriptions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
		"nextCursor":    next,
		"hasMore":       hasMore,
	})
}

// wipeTenantHandler removes every trace of a tenant: directory entry,
// credential namespace contents, and subscription rows.
func (s *Server) wipeTenantHandler(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenantId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tenantId required"})
		return
	}

	ctx := c.Request.Context()
	if _, err := s.dir.GetTenant(ctx, req.TenantID); err != nil {
		if errors.Is(err, directory.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": "failed to load tenant"})
		return
	}

	// Namespace contents first: every key slot this platform writes.
	if handle, err := s.dir.GetNamespaceHandle(ctx, req.TenantID); err == nil {
		keys := []string{
			vault.CredentialKey(oauthflow.ProviderGitHub, directory.ModeTest),
			vault.CredentialKey(oauthflow.ProviderGitHub, directory.ModeLive),
			vault.CredentialKey(oauthflow.ProviderStripe, directory.ModeTest),
			vault.CredentialKey(oauthflow.ProviderStripe, directory.ModeLive),
			tiers.ConfigKey(directory.ModeTest),
			tiers.ConfigKey(directory.ModeLive),
		}
		if err := s.vault.Destroy(ctx, vault.Handle(handle), keys...); err != nil {
			logging.L(ctx).Error("namespace wipe failed", "tenant", req.TenantID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "wipe_failed", "message": "failed to destroy namespace"})
			return
		}
	} else if !errors.Is(err, directory.ErrNoNamespace) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wipe_failed", "message": "failed to resolve namespace"})
		return
	}

	rows, err := s.usage.Wipe(ctx, req.TenantID)
	if err != nil {
		logging.L(ctx).Error("subscription wipe failed", "tenant", req.TenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wipe_failed", "message": "failed to remove subscriptions"})
		return
	}

	// Directory entry last; also drops cached key resolutions.
	if err := s.dir.DeleteTenant(ctx, req.TenantID); err != nil {
		logging.L(ctx).Error("tenant delete failed", "tenant", req.TenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wipe_failed", "message": "failed to delete tenant"})
		return
	}

	logging.L(ctx).Info("tenant wiped", "tenant", req.TenantID, "subscriptions_removed", rows)
	c.JSON(http.StatusOK, gin.H{"success": true, "subscriptionsRemoved": rows})
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse is the aggregate health report
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Plinth",
		"description": "Billing and account-connection backend for multi-tenant SaaS",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Sample db pool stats into gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
