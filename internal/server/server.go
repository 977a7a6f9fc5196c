// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/toss-platform/riskd/internal/config"
	"github.com/toss-platform/riskd/internal/funds"
	"github.com/toss-platform/riskd/internal/health"
	"github.com/toss-platform/riskd/internal/logging"
	"github.com/toss-platform/riskd/internal/metrics"
	"github.com/toss-platform/riskd/internal/oracle"
	"github.com/toss-platform/riskd/internal/params"
	"github.com/toss-platform/riskd/internal/protocol"
	"github.com/toss-platform/riskd/internal/ratelimit"
	"github.com/toss-platform/riskd/internal/realtime"
	"github.com/toss-platform/riskd/internal/receipts"
	"github.com/toss-platform/riskd/internal/risk"
	"github.com/toss-platform/riskd/internal/slashing"
	"github.com/toss-platform/riskd/internal/stakes"
	"github.com/toss-platform/riskd/internal/token"
	"github.com/toss-platform/riskd/internal/traces"
	"github.com/toss-platform/riskd/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and all engine dependencies.
type Server struct {
	cfg *config.Config

	riskEngine  *risk.Engine
	slashEngine *slashing.Engine
	slashStore  slashing.Store
	receiptSvc  *receipts.Service
	paramStore  *params.Store
	fundConfigs funds.ConfigStore
	vaultSink   funds.VaultSink
	protoState  *protocol.State
	priceSource *oracle.MemorySource
	stakeLedger *stakes.Ledger

	hub         *realtime.Hub
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry

	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	tracesShutdown func(context.Context) error
	cancelRunCtx   context.CancelFunc

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	metrics.Register()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.tracesShutdown = shutdown

	// Bounded parameter store seeded from config.
	s.paramStore, err = params.New(params.WithInitial(params.Snapshot{
		Weights:        params.DefaultWeights(),
		WarnThreshold:  cfg.WarnThreshold,
		SlashThreshold: cfg.SlashThreshold,
		GammaPct:       cfg.GammaPct,
		BanThreshold:   cfg.BanThreshold,
	}))
	if err != nil {
		return nil, fmt.Errorf("invalid initial parameters: %w", err)
	}

	// Protocol state and price feeds live in-process; the guardian and
	// vault surfaces mutate them at runtime.
	s.protoState = protocol.NewState()
	s.priceSource = oracle.NewMemorySource()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory).
	var (
		riskStore    risk.Store
		stakeStore   stakes.Store
		receiptStore receipts.Store
	)
	// Vault snapshots are pushed by the vault subsystem and held in
	// memory in both modes; they are live reads, never durable state.
	vaultCache := funds.NewMemoryStore()
	s.vaultSink = vaultCache

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		riskStore = risk.NewPostgresStore(db)
		s.slashStore = slashing.NewPostgresStore(db)
		stakeStore = stakes.NewPostgresStore(db)
		s.fundConfigs = funds.NewPostgresStore(db)
		receiptStore = receipts.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		riskStore = risk.NewMemoryStore()
		s.slashStore = slashing.NewMemoryStore()
		stakeStore = stakes.NewMemoryStore()
		s.fundConfigs = vaultCache
		receiptStore = receipts.NewMemoryStore()
	}

	s.stakeLedger = stakes.NewLedger(stakeStore)

	// Token ledger: on-chain when an RPC endpoint is configured.
	var tokenLedger slashing.TokenLedger
	if cfg.RPCURL != "" {
		ethLedger, err := token.NewEthLedger(token.EthConfig{
			RPCURL:        cfg.RPCURL,
			PrivateKey:    cfg.PrivateKey,
			ChainID:       cfg.ChainID,
			TokenContract: cfg.TokenContract,
			TreasuryAddr:  cfg.TreasuryAddr,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create token ledger: %w", err)
		}
		tokenLedger = ethLedger
		s.logger.Info("on-chain token ledger enabled", "contract", cfg.TokenContract)
	} else {
		// 1B token demo supply.
		supply := new(big.Int).Mul(big.NewInt(1_000_000_000), big.NewInt(1_000_000))
		tokenLedger = token.NewMemoryLedger(supply)
		s.logger.Info("in-memory token ledger enabled")
	}

	// Receipts: signed settlement records, disabled without a secret.
	s.receiptSvc = receipts.NewService(receiptStore, receipts.NewSigner(cfg.ReceiptHMACSecret))
	if cfg.ReceiptHMACSecret == "" {
		s.logger.Warn("RECEIPT_HMAC_SECRET not set; settlement receipts disabled")
	}

	// Slashing engine. The only execution trigger is handed to the risk
	// engine below; no HTTP route can slash.
	s.slashEngine = slashing.NewEngine(
		s.stakeLedger,
		tokenLedger,
		s.paramStore,
		s.slashStore,
		cfg.TreasuryAddr,
	).WithSettler(s.receiptSvc)

	s.hub = realtime.NewHub(s.logger)

	s.riskEngine = risk.NewEngine(
		s.fundConfigs,
		risk.NewProtocolDomain(s.protoState, s.priceSource),
		risk.NewFundDomain(vaultCache, s.priceSource),
		risk.NewInvestorDomain(),
		s.paramStore,
		riskStore,
		s.slashEngine.NewTrigger(),
	).
		WithEventSink(s.hub).
		WithApprovalTTL(time.Duration(cfg.ApprovalTTLSeconds) * time.Second)

	s.healthReg = health.NewRegistry()
	s.healthReg.Register("database", health.DatabasePing(s.db))
	s.healthReg.Register("protocol", func(ctx context.Context) health.Status {
		st := s.protoState.Status()
		return health.Status{
			Name:    "protocol",
			Healthy: st == protocol.StatusActive,
			Detail:  string(st),
		}
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitRPM / 6,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
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
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// requireToken gates a route group behind a static bearer token. The
// comparison is constant-time. An empty configured token means the
// surface is disabled entirely; callers must not register those routes.
func requireToken(expected, surface string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(provided) > len(prefix) && provided[:len(prefix)] == prefix {
			provided = provided[len(prefix):]
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": surface + " token required",
			})
			return
		}
		c.Next()
	}
}

// requireAdmin gates a route group behind the admin secret header.
func requireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "admin secret required",
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
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.Use(validation.AddressParamMiddleware())

	// WebSocket audit event feed.
	v1.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	riskHandler := risk.NewHandler(s.riskEngine)
	slashHandler := slashing.NewHandler(s.slashStore)
	receiptHandler := receipts.NewHandler(s.receiptSvc)
	fundHandler := funds.NewHandler(s.fundConfigs).WithVaultSink(s.vaultSink)
	paramHandler := params.NewHandler(s.paramStore)

	// PUBLIC ROUTES — validation gateway and audit reads.
	riskHandler.RegisterRoutes(v1)
	slashHandler.RegisterRoutes(v1)
	receiptHandler.RegisterRoutes(v1)
	fundHandler.RegisterRoutes(v1)

	// EXECUTOR ROUTES — single-use approval consumption.
	if s.cfg.ExecutorToken != "" {
		executor := v1.Group("")
		executor.Use(requireToken(s.cfg.ExecutorToken, "executor"), validation.HashParamMiddleware())
		riskHandler.RegisterExecutorRoutes(executor)
	} else {
		s.logger.Warn("EXECUTOR_TOKEN not set; approval consumption surface disabled")
	}

	// GUARDIAN ROUTES — manual review and resume.
	if s.cfg.GuardianToken != "" {
		guardian := v1.Group("")
		guardian.Use(requireToken(s.cfg.GuardianToken, "guardian"))
		riskHandler.RegisterGuardianRoutes(guardian)
	} else {
		s.logger.Warn("GUARDIAN_TOKEN not set; guardian surface disabled")
	}

	// VAULT ROUTES — investor actions, NAV reports, vault snapshots.
	if s.cfg.VaultToken != "" {
		vault := v1.Group("")
		vault.Use(requireToken(s.cfg.VaultToken, "vault"))
		riskHandler.RegisterVaultRoutes(vault)
		fundHandler.RegisterVaultRoutes(vault)
	} else {
		s.logger.Warn("VAULT_TOKEN not set; vault surface disabled")
	}

	// ADMIN ROUTES — bounded parameter updates and fund configuration.
	if s.cfg.AdminSecret != "" {
		admin := v1.Group("/admin")
		admin.Use(requireAdmin(s.cfg.AdminSecret))
		paramHandler.RegisterAdminRoutes(admin)
		fundHandler.RegisterAdminRoutes(admin)
	} else {
		s.logger.Warn("ADMIN_SECRET not set; admin surface disabled")
	}
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

	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())
	httpStatus := http.StatusOK
	status := "ready"
	if !healthy {
		httpStatus = http.StatusServiceUnavailable
		status = "degraded"
	}
	c.JSON(httpStatus, gin.H{"status": status, "checks": statuses})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)

	metrics.StartRuntimeCollector(runCtx, s.db, 15*time.Second)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
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

// PriceSource returns the in-process price feed so deployments can seed
// quotes at startup.
func (s *Server) PriceSource() *oracle.MemorySource {
	return s.priceSource
}

// ProtocolState returns the in-process protocol state.
func (s *Server) ProtocolState() *protocol.State {
	return s.protoState
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
