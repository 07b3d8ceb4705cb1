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

	"github.com/mbd888/zapshift/internal/auth"
	"github.com/mbd888/zapshift/internal/checkout"
	"github.com/mbd888/zapshift/internal/circuitbreaker"
	"github.com/mbd888/zapshift/internal/config"
	"github.com/mbd888/zapshift/internal/health"
	"github.com/mbd888/zapshift/internal/idgen"
	"github.com/mbd888/zapshift/internal/logging"
	"github.com/mbd888/zapshift/internal/metrics"
	"github.com/mbd888/zapshift/internal/parcels"
	"github.com/mbd888/zapshift/internal/payments"
	"github.com/mbd888/zapshift/internal/ratelimit"
	"github.com/mbd888/zapshift/internal/reconciliation"
	"github.com/mbd888/zapshift/internal/security"
	"github.com/mbd888/zapshift/internal/traces"
	"github.com/mbd888/zapshift/internal/users"
	"github.com/mbd888/zapshift/internal/validation"
	"github.com/mbd888/zapshift/migrations"
)

// TokenIssuer is the issuer expected on HS256 identity tokens.
const TokenIssuer = "zapshift"

// devTokenSecret signs identity tokens in development when neither
// FIREBASE_PROJECT_ID nor AUTH_JWT_SECRET is set.
const devTokenSecret = "zapshift-dev-secret"

// stripeBreakerKey names the gateway circuit in the breaker.
const stripeBreakerKey = "stripe"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	db           *sql.DB // nil if using in-memory
	verifier     auth.Verifier
	gateway      checkout.Gateway
	breaker      *circuitbreaker.Breaker
	parcels      *parcels.Service
	payments     *payments.Service
	users        *users.Service
	checkout     *checkout.Service
	engine       *reconciliation.Engine
	repairTimer  *reconciliation.Timer
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

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

// WithGateway sets a custom checkout gateway (for testing)
func WithGateway(g checkout.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// WithVerifier sets a custom identity token verifier (for testing)
func WithVerifier(v auth.Verifier) Option {
	return func(s *Server) {
		s.verifier = v
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

	for _, opt := range opts {
		opt(s)
	}

	if err := s.setupStorage(context.Background()); err != nil {
		return nil, err
	}
	s.setupVerifier()
	s.setupGateway()

	s.checkout = checkout.NewService(s.gateway, s.parcels.Store(), cfg.SuccessURL(), cfg.CancelURL())
	s.engine = reconciliation.NewEngine(s.gateway, s.parcels.Store(), s.payments, s.logger)
	if cfg.RepairInterval > 0 {
		repairer := reconciliation.NewRepairer(s.engine, s.parcels.Store(), s.payments, s.logger)
		s.repairTimer = reconciliation.NewTimer(repairer, cfg.RepairInterval, s.logger)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupStorage opens PostgreSQL when DATABASE_URL is set, migrating it to
// the latest schema, and otherwise falls back to in-memory stores.
func (s *Server) setupStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		s.parcels = parcels.NewService(parcels.NewMemoryStore())
		s.payments = payments.NewService(payments.NewMemoryStore())
		s.users = users.NewService(users.NewMemoryStore())
		s.logger.Info("using in-memory storage (data will not persist)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	s.db = db
	s.parcels = parcels.NewService(parcels.NewPostgresStore(db))
	s.payments = payments.NewService(payments.NewPostgresStore(db))
	s.users = users.NewService(users.NewPostgresStore(db))
	s.health.Register("database", health.PingCheck("database", db))
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

func (s *Server) setupVerifier() {
	if s.verifier != nil {
		return
	}
	switch {
	case s.cfg.FirebaseProjectID != "":
		s.verifier = auth.NewFirebaseVerifier(s.cfg.FirebaseProjectID)
		s.logger.Info("identity tokens verified against Firebase", "project", s.cfg.FirebaseProjectID)
	case s.cfg.AuthJWTSecret != "":
		s.verifier = auth.NewHMACVerifier(s.cfg.AuthJWTSecret, TokenIssuer)
		s.logger.Info("identity tokens verified with shared secret")
	default:
		s.verifier = auth.NewHMACVerifier(devTokenSecret, TokenIssuer)
		s.logger.Warn("no identity provider configured, using development token secret")
	}
}

func (s *Server) setupGateway() {
	s.breaker = circuitbreaker.New(5, 30*time.Second)
	s.health.Register("payment_gateway", s.gatewayCheck)

	if s.gateway != nil {
		return
	}
	if s.cfg.StripeSecretKey != "" {
		api := checkout.NewStripeClient(s.cfg.StripeSecretKey, nil)
		s.gateway = checkout.NewStripeGateway(api, s.cfg.Currency, s.breaker)
		s.logger.Info("stripe checkout enabled", "currency", s.cfg.Currency)
		return
	}
	s.gateway = checkout.NewMemoryGateway(s.cfg.Currency, checkout.WithAutoPay())
	s.logger.Warn("no STRIPE_SECRET_KEY set, checkout sessions are simulated and paid immediately")
}

func (s *Server) gatewayCheck(_ context.Context) health.Status {
	state := s.breaker.State(stripeBreakerKey)
	return health.Status{
		Name:    "payment_gateway",
		Healthy: state != circuitbreaker.StateOpen,
		Detail:  "circuit " + state.String(),
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	if s.cfg.RateLimitRPM > 0 {
		s.rateLimiter = ratelimit.New(ratelimit.FromRPM(s.cfg.RateLimitRPM))
		s.router.Use(s.rateLimiter.Middleware())
	}

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
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
	s.router.GET("/health", s.health.Handler())
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.infoHandler)

	api := s.router.Group("/")
	api.Use(auth.Middleware(s.verifier))

	// Public: the gateway verifies session references and signs webhooks.
	checkout.NewHandler(s.checkout).RegisterRoutes(api)
	reconciliation.NewHandler(s.engine, s.cfg.StripeWebhookSecret).RegisterRoutes(api)

	protected := api.Group("/", auth.RequireAuth())
	parcels.NewHandler(s.parcels).RegisterRoutes(protected)
	payments.NewHandler(s.payments).RegisterRoutes(protected)
	users.NewHandler(s.users).RegisterRoutes(protected)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

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
	storage := "memory"
	if s.db != nil {
		storage = "postgres"
	}
	c.JSON(http.StatusOK, gin.H{
		"name":     "ZapShift API",
		"env":      s.cfg.Env,
		"storage":  storage,
		"currency": s.cfg.Currency,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTracing = stopTracing
	}

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.repairTimer != nil {
		go s.repairTimer.Start(runCtx)
	}
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

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

	if s.repairTimer != nil {
		s.repairTimer.Stop()
		s.logger.Info("ledger repair timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

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
