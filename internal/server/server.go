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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/rivora/rivora/internal/circuitbreaker"
	"github.com/rivora/rivora/internal/config"
	"github.com/rivora/rivora/internal/features"
	"github.com/rivora/rivora/internal/health"
	"github.com/rivora/rivora/internal/history"
	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/idgen"
	"github.com/rivora/rivora/internal/logging"
	"github.com/rivora/rivora/internal/metrics"
	"github.com/rivora/rivora/internal/model"
	"github.com/rivora/rivora/internal/persistence"
	"github.com/rivora/rivora/internal/ratelimit"
	"github.com/rivora/rivora/internal/rules"
	"github.com/rivora/rivora/internal/scoring"
	"github.com/rivora/rivora/internal/security"
	"github.com/rivora/rivora/internal/soroban"
	"github.com/rivora/rivora/internal/stellar"
	"github.com/rivora/rivora/internal/traces"
	"github.com/rivora/rivora/internal/validation"
	"github.com/rivora/rivora/migrations"
)

// Breaker settings for the contract strategy when it falls back to native.
const (
	breakerThreshold = 3
	breakerOpenFor   = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	horizon   *horizon.Client // nil when both snapshots and ledger are injected
	soroban   *soroban.Client // nil unless the contract strategy is enabled
	snapshots features.SnapshotSource
	ledger    persistence.Ledger
	simulator persistence.Simulator
	samples   model.SampleSource

	models      *model.Registry
	modelLoader *model.Loader
	scoring     *scoring.Service
	persistence *persistence.Service
	history     history.Store
	breaker     *circuitbreaker.Breaker
	health      *health.Registry

	rateLimiter  *ratelimit.Limiter
	chainLimiter *ratelimit.Limiter

	db            *sql.DB // nil if using in-memory history
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
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

// WithSnapshotSource replaces the Horizon snapshot source (for testing)
func WithSnapshotSource(src features.SnapshotSource) Option {
	return func(s *Server) {
		s.snapshots = src
	}
}

// WithLedger replaces the Horizon ledger used for drafts and submission (for testing)
func WithLedger(l persistence.Ledger) Option {
	return func(s *Server) {
		s.ledger = l
	}
}

// WithSimulator replaces the Soroban RPC client (for testing)
func WithSimulator(sim persistence.Simulator) Option {
	return func(s *Server) {
		s.simulator = sim
	}
}

// WithSampleSource replaces the training dataset
func WithSampleSource(src model.SampleSource) Option {
	return func(s *Server) {
		s.samples = src
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set logger and upstreams)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := validation.RegisterStellarTags(); err != nil {
		return nil, err
	}

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	// Submission history (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		if err := metrics.RegisterDB(db); err != nil {
			s.logger.Warn("database pool metrics disabled", "error", err)
		}

		s.db = db
		store := history.NewPostgresStore(db)
		s.history = store
		s.health.Register("database", health.Upstream("database", health.PingFunc(store.Ping)))
		s.logger.Info("using PostgreSQL history", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.history = history.NewMemoryStore()
		s.logger.Info("using in-memory history (set DATABASE_URL for persistence)")
	}

	// Horizon
	if s.snapshots == nil || s.ledger == nil {
		s.horizon = horizon.NewClient(cfg.ActiveHorizonURL())
		s.health.Register("horizon", health.Upstream("horizon", s.horizon))
		if s.snapshots == nil {
			s.snapshots = horizon.NewSnapshotSource(s.horizon, horizon.DefaultPageLimit)
		}
		if s.ledger == nil {
			s.ledger = s.horizon
		}
		s.logger.Info("horizon configured", "url", cfg.ActiveHorizonURL(), "network", cfg.Network)
	}

	// Soroban
	if cfg.ContractEnabled() && s.simulator == nil {
		client, err := soroban.Dial(ctx, cfg.SorobanRPCURL)
		switch {
		case err == nil:
			s.soroban = client
			s.simulator = client
			s.health.Register("soroban", health.Upstream("soroban", health.PingFunc(func(ctx context.Context) error {
				_, err := client.Health(ctx)
				return err
			})))
		case cfg.PersistenceMode == config.PersistenceContract:
			return nil, fmt.Errorf("failed to connect to soroban rpc: %w", err)
		default:
			s.logger.Warn("soroban rpc unavailable, native persistence only", "url", cfg.SorobanRPCURL, "error", err)
		}
	}

	strategy, err := s.buildStrategy()
	if err != nil {
		return nil, err
	}
	s.persistence = persistence.NewService(strategy, s.ledger, cfg.StellarNetwork(),
		persistence.WithHistory(s.history),
		persistence.WithLogger(s.logger),
	)
	s.logger.Info("persistence configured", "mode", s.persistence.Mode())

	// Models and scoring
	if s.samples == nil {
		s.samples = model.NewFileSource(cfg.TrainingDataPath)
	}
	s.models = model.NewRegistry(s.samples, model.WithLogger(s.logger))
	s.modelLoader = model.NewLoader(s.models, cfg.ModelRetryInterval, s.logger)
	s.health.Register("model", health.Model(s.models))

	gasMode, err := rules.ParseGasMode(cfg.GasMode)
	if err != nil {
		return nil, err
	}
	orch := scoring.NewOrchestrator(s.models, rules.NewScorer(gasMode), s.logger)
	s.scoring = scoring.NewService(s.snapshots, orch, s.logger)

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

// buildStrategy picks the persistence strategy from PERSISTENCE_MODE. Auto
// prefers the contract and falls back to native data entries.
func (s *Server) buildStrategy() (persistence.Strategy, error) {
	network := s.cfg.StellarNetwork()
	fee := uint32(s.cfg.BaseFee)
	native := persistence.NewNativeStrategy(s.ledger, network, fee)

	if !s.cfg.ContractEnabled() || s.simulator == nil {
		if s.cfg.PersistenceMode == config.PersistenceContract {
			return nil, errors.New("contract persistence requires a soroban rpc client")
		}
		return native, nil
	}

	id, err := stellar.ParseContractID(s.cfg.ContractID)
	if err != nil {
		return nil, fmt.Errorf("invalid contract id: %w", err)
	}
	contract := persistence.NewContractStrategy(s.ledger, s.simulator, id, network, fee)
	if s.cfg.PersistenceMode == config.PersistenceContract {
		return contract, nil
	}

	s.breaker = circuitbreaker.New(breakerThreshold, breakerOpenFor)
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("persistence breaker changed state", "strategy", key, "from", from.String(), "to", to.String())
	})
	return persistence.NewFallback(contract, native, s.breaker, s.logger), nil
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (any origin unless CORS_ORIGINS is set)
	s.router.Use(security.CORSMiddleware(security.ParseOrigins(s.cfg.CORSOrigins)))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
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
			requestID = idgen.RequestID()
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

	s.router.GET("/", s.infoHandler)

	api := s.router.Group("/api")

	scoring.NewHandler(s.scoring, scoring.StatusInfo{
		Network:         string(s.cfg.StellarNetwork()),
		PersistenceMode: s.persistence.Mode(),
	}).RegisterRoutes(api)

	// Drafts and submissions call Horizon and Soroban on every request
	s.chainLimiter = ratelimit.New(ratelimit.BlockchainConfig())
	persistence.NewHandler(s.persistence).RegisterRoutes(api.Group("", s.chainLimiter.Middleware()))

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "not_found",
			"message": "Endpoint not found",
		})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.health.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		v := "healthy"
		if !st.Healthy {
			v = "unhealthy"
		}
		if st.Detail != "" {
			v += ": " + st.Detail
		}
		checks[st.Name] = v
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   scoring.APIVersion,
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
		"name":        "Rivora",
		"description": "Stellar wallet reputation scoring",
		"version":     scoring.APIVersion,
		"network":     s.cfg.StellarNetwork(),
		"persistence": s.persistence.Mode(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // batch scoring fans out to Horizon
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"network", s.cfg.Network,
			"persistence", s.persistence.Mode(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Warm the models; retries while the registry stays empty
	go s.modelLoader.Start(runCtx)


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

	// Cancel the context for all background goroutines (model loader, db stats)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

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

	s.modelLoader.Stop()

	// Stop rate limiter cleanup goroutines
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.chainLimiter != nil {
		s.chainLimiter.Stop()
	}

	if s.soroban != nil {
		s.soroban.Close()
	}

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
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

// Scoring returns the scoring service (for in-process callers such as the MCP server)
func (s *Server) Scoring() *scoring.Service {
	return s.scoring
}

// Persistence returns the persistence service
func (s *Server) Persistence() *persistence.Service {
	return s.persistence
}
