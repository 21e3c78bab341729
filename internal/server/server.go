// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/remoteprojobs/wallet/internal/accounts"
	"github.com/remoteprojobs/wallet/internal/auth"
	"github.com/remoteprojobs/wallet/internal/circuitbreaker"
	"github.com/remoteprojobs/wallet/internal/config"
	"github.com/remoteprojobs/wallet/internal/health"
	"github.com/remoteprojobs/wallet/internal/idgen"
	"github.com/remoteprojobs/wallet/internal/logging"
	"github.com/remoteprojobs/wallet/internal/metrics"
	"github.com/remoteprojobs/wallet/internal/payhero"
	"github.com/remoteprojobs/wallet/internal/payments"
	"github.com/remoteprojobs/wallet/internal/ratelimit"
	"github.com/remoteprojobs/wallet/internal/security"
	"github.com/remoteprojobs/wallet/internal/syncutil"
	"github.com/remoteprojobs/wallet/internal/traces"
	"github.com/remoteprojobs/wallet/internal/validation"
	"github.com/remoteprojobs/wallet/internal/withdrawals"
	"github.com/remoteprojobs/wallet/migrations"
)

const (
	breakerThreshold = 5
	breakerCoolDown  = 30 * time.Second
	healthTimeout    = 3 * time.Second
	dbStatsInterval  = 15 * time.Second
	lockKeyPrefix    = "wallet:lock"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	accounts    *accounts.Service
	withdrawals *withdrawals.Service
	payments    *payments.Processor
	reconciler  *payments.Timer
	gateway     payments.Gateway
	breaker     *circuitbreaker.Breaker
	verifier    *auth.Verifier
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB       // nil if using in-memory
	redis       *redis.Client // nil if using in-process locks
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Run
	shutdownTracing func(context.Context) error
	drainDelay      time.Duration
	closeOnce       sync.Once

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

// WithGateway replaces the PayHero client (for testing)
func WithGateway(g payments.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	var (
		accountStore    accounts.Store
		withdrawalStore withdrawals.Store
		paymentStore    payments.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := s.openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		s.db = db

		accountStore = accounts.NewPostgresStore(db)
		withdrawalStore = withdrawals.NewPostgresStore(db)
		paymentStore = payments.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "dsn", maskDSN(cfg.DatabaseURL))
	} else {
		mem := accounts.NewMemoryStore()
		accountStore = mem
		withdrawalStore = withdrawals.NewMemoryStore(mem)
		paymentStore = payments.NewMemoryStore(mem)
		s.logger.Warn("DATABASE_URL not set, using in-memory storage (data is lost on restart)")
	}

	locker, err := s.newLocker(ctx)
	if err != nil {
		s.closeStores()
		return nil, err
	}

	policy, err := withdrawals.NewPolicy(cfg.MinWithdrawalRegular, cfg.MinWithdrawalPremium)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("withdrawal policy: %w", err)
	}

	s.breaker = circuitbreaker.New(breakerThreshold, breakerCoolDown)
	if s.gateway == nil {
		channelID := 0
		if cfg.PayHeroChannelID != "" {
			if channelID, err = strconv.Atoi(cfg.PayHeroChannelID); err != nil {
				s.closeStores()
				return nil, fmt.Errorf("PAYHERO_CHANNEL_ID must be numeric: %w", err)
			}
		}
		s.gateway = payhero.NewClient(payhero.Config{
			BaseURL:   cfg.PayHeroBaseURL,
			BasicAuth: cfg.PayHeroBasicAuth,
			ChannelID: channelID,
			Provider:  cfg.PayHeroProvider,
		}, s.breaker)
	}

	s.accounts = accounts.NewService(accountStore, s.logger)
	s.withdrawals = withdrawals.NewService(withdrawalStore, s.accounts, policy, locker, s.logger)
	s.payments = payments.NewProcessor(paymentStore, s.accounts, s.gateway, payments.Options{
		DefaultAmountKES: cfg.PaymentAmountKES,
		ConnectsGranted:  cfg.ConnectsGranted,
		CallbackURL:      cfg.PayHeroCallbackURL,
		GatewayTimeout:   cfg.GatewayTimeout,
	}, s.logger)

	reconcileOpts := payments.DefaultReconcileOptions()
	reconcileOpts.PendingTTL = cfg.PaymentPendingTTL
	s.reconciler = payments.NewTimer(s.payments, cfg.ReconcileInterval, reconcileOpts, s.logger)

	s.verifier = auth.NewVerifier(cfg.JWTSecret, auth.Issuer)

	s.health = health.NewRegistry(healthTimeout)
	if s.db != nil {
		s.health.Register("database", true, health.Database(s.db))
	}
	if rl, ok := locker.(*syncutil.RedisLocker); ok {
		s.health.Register("redis", true, health.Ping(rl))
	}
	s.health.Register("payhero", false, health.Breaker(s.breaker, payhero.BreakerKey))

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) openDatabase(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(s.cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if s.cfg.AutoMigrate {
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		s.logger.Info("database migrations applied")
	}
	return db, nil
}

// newLocker returns a redis-backed locker when REDIS_URL is set so approvals
// serialize across instances; otherwise locks are in-process.
func (s *Server) newLocker(ctx context.Context) (syncutil.Locker, error) {
	if s.cfg.RedisURL == "" {
		return syncutil.NewLocalLocker(), nil
	}

	opt, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s.redis = client
	s.logger.Info("using redis account locks", "addr", opt.Addr)
	return syncutil.NewRedisLocker(client, lockKeyPrefix, syncutil.WithLockLogger(s.logger)), nil
}

func (s *Server) closeStores() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// maskDSN hides password in connection string for logging
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(metrics.Middleware())

	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Identity must be resolved before rate limiting so buckets key on the account
	s.router.Use(auth.Middleware(s.verifier))

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.health.Handler())
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	accountHandler := accounts.NewHandler(s.accounts, s.logger)
	withdrawalHandler := withdrawals.NewHandler(s.withdrawals, s.logger)
	paymentHandler := payments.NewHandler(s.payments, payhero.Decoder{}, s.logger)

	v1 := s.router.Group("/v1")

	// Gateway callbacks carry no bearer token
	paymentHandler.RegisterCallbackRoute(v1)

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	{
		accountHandler.RegisterRoutes(protected)
		withdrawalHandler.RegisterRoutes(protected)
		paymentHandler.RegisterRoutes(protected)
	}

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin())
	{
		accountHandler.RegisterAdminRoutes(admin)
		withdrawalHandler.RegisterAdminRoutes(admin)
	}
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	health.LiveHandler(c)
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	s.health.ReadyHandler()(c)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Error("tracing disabled", "error", err)
	} else {
		s.shutdownTracing = shutdownTracing
	}

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

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Settle or expire payments whose callback never arrived
	go s.reconciler.Start(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
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
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		s.Close()
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

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	s.Close()
	s.logger.Info("server stopped")
	return nil
}

// Close stops background work and releases connections without waiting
// for in-flight requests. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(s.close)
}

func (s *Server) close() {
	// Cancel the context for background goroutines (reconciler, db stats)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.reconciler != nil {
		s.reconciler.Stop()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Verifier returns the token verifier so tests and tools can mint tokens.
func (s *Server) Verifier() *auth.Verifier {
	return s.verifier
}
