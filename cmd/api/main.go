package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"warden/internal/auth"
	"warden/internal/background"
	"warden/internal/config"
	"warden/internal/database"
	"warden/internal/handlers"
	middlewareCustom "warden/internal/middleware"
	"warden/internal/repositories"
	"warden/internal/routes"
	"warden/internal/services"
	pkghttp "warden/pkg/http"
	pkglogger "warden/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("store", cfg.Store.Kind),
		slog.Int("failure_limit", cfg.Lockout.FailureLimit),
		slog.String("cooloff_time", cfg.Lockout.CooloffTime.String()),
		slog.Bool("lock_at_failure", cfg.Lockout.LockAtFailure))

	// Initialize the configured store backend. The decision engine only sees
	// the store interfaces; which backend sits behind them is wiring.
	var (
		attemptStore   services.AttemptStore
		trustStore     services.TrustStore
		accessLogStore services.AccessLogStore
		storeHealth    func(context.Context) error
	)

	switch cfg.Store.Kind {
	case config.StorePostgres:
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()

		attemptStore = repositories.NewAttemptRepository(db)
		trustStore = repositories.NewTrustRepository(db)
		accessLogStore = repositories.NewAccessLogRepository(db)
		storeHealth = db.HealthCheck

	case config.StoreSQLite:
		store, err := repositories.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			logger.Error("failed to open sqlite store", slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()

		attemptStore = store.Attempts
		trustStore = store.Trust
		accessLogStore = store.AccessLog
		storeHealth = store.HealthCheck
		logger.Info("sqlite store opened", slog.String("path", cfg.Store.SQLitePath))

	default:
		// Counters vanish on restart; fine for development, stated plainly
		// so nobody mistakes it for the production setup.
		attemptStore = repositories.NewMemoryAttemptStore()
		trustStore = repositories.NewMemoryTrustStore()
		accessLogStore = repositories.NewMemoryAccessLogStore()
		logger.Warn("using in-memory store; lockout state is lost on restart")
	}

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(attemptStore, logger, cfg.Cleanup.Retention, cfg.Cleanup.Interval)

	// Initialize token manager for the admin surface
	tokenManager := auth.NewTokenManager(cfg.Admin.Secret)

	// Initialize audit logger
	auditLogger := pkglogger.NewAuditLogger(logger)

	// Core services
	policy := services.Policy{
		FailureLimit:      cfg.Lockout.FailureLimit,
		CooloffTime:       cfg.Lockout.CooloffTime,
		LockByCombination: cfg.Lockout.LockByCombination,
		UseUserAgent:      cfg.Lockout.UseUserAgent,
		OnlyUserFailures:  cfg.Lockout.OnlyUserFailures,
		LockAtFailure:     cfg.Lockout.LockAtFailure,
	}
	lockoutService := services.NewLockoutService(policy, attemptStore, trustStore, accessLogStore, logger)
	accessLogService := services.NewAccessLogService(accessLogStore, logger)

	// Lockout subscribers. The audit trail always listens; the notifiers are
	// optional and none of them can change a verdict.
	lockoutService.OnLockout(func(ctx context.Context, event services.LockoutEvent) {
		auditLogger.LogLockout(pkglogger.AuditEvent{
			Username:     event.Username,
			IPAddress:    event.IPAddress,
			ScopeKey:     event.ScopeKey,
			FailureCount: event.FailureCount,
		})
	})

	if cfg.Alerts.WebhookURL != "" {
		webhookAlerts := services.NewWebhookAlertService(cfg.Alerts.WebhookURL, logger)
		lockoutService.OnLockout(webhookAlerts.Notify)
		logger.Info("webhook lockout alerts enabled")
	}

	if cfg.Alerts.EmailEnabled {
		emailAlerts, err := services.NewEmailAlertService(cfg.Alerts.AWSRegion, cfg.Alerts.EmailFrom, cfg.Alerts.EmailTo, logger)
		if err != nil {
			logger.Error("failed to initialize email alerts", slog.Any("error", err))
			os.Exit(1)
		}
		lockoutService.OnLockout(emailAlerts.Notify)
		logger.Info("email lockout alerts enabled", slog.Int("recipients", len(cfg.Alerts.EmailTo)))
	}

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	attemptsHandler := handlers.NewAttemptsHandler(lockoutService, auditLogger, ipConfig)
	adminHandler := handlers.NewAdminHandler(lockoutService, accessLogService, auditLogger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, attemptsHandler, adminHandler, tokenManager,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Admin.ResetRequestsPerMinute})

	// Health check with the active store
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if storeHealth != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := storeHealth(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy","store":"down"}`))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","store":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
