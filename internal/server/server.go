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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/repscore/internal/chainclock"
	"github.com/mbd888/repscore/internal/config"
	"github.com/mbd888/repscore/internal/gate"
	"github.com/mbd888/repscore/internal/health"
	"github.com/mbd888/repscore/internal/logging"
	"github.com/mbd888/repscore/internal/metrics"
	"github.com/mbd888/repscore/internal/ratelimit"
	"github.com/mbd888/repscore/internal/realtime"
	"github.com/mbd888/repscore/internal/reputation"
	"github.com/mbd888/repscore/internal/retry"
	"github.com/mbd888/repscore/internal/security"
	"github.com/mbd888/repscore/internal/traces"
	"github.com/mbd888/repscore/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	version     string
	store       reputation.Store
	clock       reputation.Clock
	chain       *chainclock.Chain // nil unless CLOCK_MODE=chain
	pauseFlag   gate.PauseFlag
	gate        *gate.Gate
	engine      *reputation.Engine
	worker      *reputation.Worker
	realtimeHub *realtime.Hub
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB       // nil if using in-memory
	redis       *redis.Client // nil if using the process-local pause flag
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	drainDelay    time.Duration

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

// WithVersion sets the version reported by /health and /v1/info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithStore injects a reputation store instead of the one DATABASE_URL
// selects.
func WithStore(st reputation.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithClock injects a clock instead of the one CLOCK_MODE selects.
func WithClock(c reputation.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithPauseFlag injects a pause flag instead of the one REDIS_URL selects.
func WithPauseFlag(f gate.PauseFlag) Option {
	return func(s *Server) {
		s.pauseFlag = f
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	if err := s.initStore(ctx); err != nil {
		s.closeResources()
		return nil, err
	}
	if err := s.initPauseFlag(ctx); err != nil {
		s.closeResources()
		return nil, err
	}
	if err := s.initClock(ctx); err != nil {
		s.closeResources()
		return nil, err
	}

	s.gate = gate.New(cfg.Operators, s.pauseFlag, s.logger)
	s.logger.Info("access gate configured", "operators", len(cfg.Operators))

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	s.engine = reputation.NewEngine(s.store, s.gate, s.clock, s.logger).WithEvents(s.realtimeHub)

	if cfg.WorkerInterval > 0 {
		// Assess is open to any caller, so the worker presents no identity.
		s.worker = reputation.NewWorker(s.engine, reputation.Caller{}, cfg.WorkerInterval, s.logger)
		s.logger.Info("risk sweep enabled", "interval", cfg.WorkerInterval)
	}

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

func (s *Server) initStore(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	if s.cfg.DatabaseURL == "" {
		s.store = reputation.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	s.db = db

	if err := s.startupPolicy("database").Do(ctx, db.PingContext); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	pg := reputation.NewPostgresStore(db)
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate reputation store: %w", err)
	}
	s.store = pg
	s.health.Register("database", health.PingChecker("database", db))
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

func (s *Server) initPauseFlag(ctx context.Context) error {
	if s.pauseFlag != nil {
		return nil
	}
	if s.cfg.RedisURL == "" {
		s.pauseFlag = gate.NewMemoryFlag()
		s.logger.Info("using process-local pause flag")
		return nil
	}

	opts, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	s.redis = redis.NewClient(opts)

	flag := gate.NewRedisFlag(s.redis, gate.DefaultPauseKey)
	if err := s.startupPolicy("redis").Do(ctx, flag.Ping); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.pauseFlag = flag
	s.health.Register("redis", health.PingChecker("redis", health.PingFunc(flag.Ping)))
	s.logger.Info("using redis pause flag", "addr", opts.Addr)
	return nil
}

func (s *Server) initClock(ctx context.Context) error {
	if s.clock == nil {
		switch s.cfg.ClockMode {
		case config.ClockChain:
			var chain *chainclock.Chain
			err := s.startupPolicy("rpc").Do(ctx, func(ctx context.Context) error {
				c, err := chainclock.Dial(ctx, s.cfg.RPCURL, s.cfg.ClockPollInterval, s.logger)
				if err != nil {
					return err
				}
				chain = c
				return nil
			})
			if err != nil {
				return err
			}
			s.chain = chain
			s.clock = chain
			s.health.Register("rpc", health.PingChecker("rpc", health.PingFunc(chain.Ping)))
		case config.ClockManual:
			s.clock = chainclock.NewManual(0)
		default:
			s.clock = chainclock.NewWall(s.cfg.GenesisTime, s.cfg.BlockInterval)
		}
		s.logger.Info("clock configured", "mode", s.cfg.ClockMode)
	}
	s.health.Register("clock", health.ClockChecker("clock", s.clock))
	return nil
}

func (s *Server) startupPolicy(dep string) retry.Policy {
	p := retry.Startup
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("dependency not ready, retrying",
			"dependency", dep,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	return p
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	return u.Redacted()
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins, gate.CallerHeader, gate.AdminSecretHeader))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	if s.cfg.RateLimitRPM > 0 {
		s.rateLimiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: s.cfg.RateLimitRPM,
			BurstSize:         s.cfg.RateLimitBurst,
			CleanupInterval:   time.Minute,
			KeyHeader:         gate.CallerHeader,
		})
		s.router.Use(s.rateLimiter.Middleware())
	}

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		if addr := c.Param("address"); addr != "" {
			ctx = logging.WithUser(ctx, addr)
		}
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

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

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
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
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

	// WebSocket for real-time streaming
	s.router.GET("/ws", gin.WrapH(s.realtimeHub))

	v1 := s.router.Group("/v1")
	v1.Use(gate.CallerMiddleware())
	v1.GET("/info", s.infoHandler)

	reputation.NewHandler(s.engine).RegisterRoutes(v1)

	admin := v1.Group("/admin", gate.RequireAdmin(s.cfg.AdminSecret))
	gate.NewHandler(s.gate).RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
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
		"name":        "repscore",
		"description": "Reputation scores and risk assessment",
		"version":     s.version,
		"clock":       s.cfg.ClockMode,
		"score": gin.H{
			"min":     reputation.MinScore,
			"max":     reputation.MaxScore,
			"initial": reputation.InitialScore,
		},
		"realtime": s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Background goroutines stop when Shutdown cancels this context.
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

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.chain != nil {
		if err := s.chain.Start(runCtx); err != nil {
			s.logger.Error("failed to start chain clock", "error", err)
		}
	}

	if s.worker != nil {
		go s.worker.Start(runCtx)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
	if s.redis != nil {
		go metrics.StartRedisStatsCollector(runCtx, s.redis, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.worker != nil {
		s.worker.Stop()
		s.logger.Info("risk sweep stopped")
	}

	if s.chain != nil {
		s.chain.Stop()
		s.logger.Info("chain clock stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace flush error", "error", err)
		}
	}

	s.closeResources()

	s.logger.Info("server stopped")
	return shutdownErr
}

// closeResources releases connection pools opened by New.
func (s *Server) closeResources() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
		s.db = nil
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Engine returns the reputation engine the routes are bound to.
func (s *Server) Engine() *reputation.Engine {
	return s.engine
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	return uuid.NewString()
}
