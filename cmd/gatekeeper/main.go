package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mpreston/gatekeeper/internal/authority"
	"github.com/mpreston/gatekeeper/internal/background"
	"github.com/mpreston/gatekeeper/internal/config"
	"github.com/mpreston/gatekeeper/internal/handlers"
	middlewareCustom "github.com/mpreston/gatekeeper/internal/middleware"
	"github.com/mpreston/gatekeeper/internal/repositories"
	"github.com/mpreston/gatekeeper/internal/routes"
	"github.com/mpreston/gatekeeper/internal/services"
	"github.com/mpreston/gatekeeper/internal/transport"
	pkglogger "github.com/mpreston/gatekeeper/pkg/logger"
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

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize durable stores
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", slog.Any("error", err))
		os.Exit(1)
	}

	verifiedRepo, err := repositories.NewNameSetRepository(filepath.Join(cfg.Storage.DataDir, "verified.txt"))
	if err != nil {
		logger.Error("failed to open verified name set", slog.Any("error", err))
		os.Exit(1)
	}
	defer verifiedRepo.Close()

	invalidatedRepo, err := repositories.NewNameSetRepository(filepath.Join(cfg.Storage.DataDir, "invalidated.txt"))
	if err != nil {
		logger.Error("failed to open invalidated name set", slog.Any("error", err))
		os.Exit(1)
	}
	defer invalidatedRepo.Close()

	blacklistRepo, err := repositories.NewBlacklistRepository(filepath.Join(cfg.Storage.DataDir, "blacklist.txt"))
	if err != nil {
		logger.Error("failed to open blacklist", slog.Any("error", err))
		os.Exit(1)
	}
	defer blacklistRepo.Close()

	logger.Info("durable stores loaded",
		slog.Int("verified_names", verifiedRepo.Len()),
		slog.Int("invalidated_names", invalidatedRepo.Len()),
		slog.Int("blacklisted_addresses", blacklistRepo.Len()))

	// Initialize security services
	securityLogger := pkglogger.NewSecurityLogger(logger)

	rateLimitService := services.NewRateLimitService(blacklistRepo, services.RateLimitConfig{
		Enabled:          cfg.RateLimit.Enabled,
		BlockDuration:    cfg.RateLimit.BlockDuration,
		OffenseWindow:    cfg.RateLimit.OffenseWindow,
		OffenseThreshold: cfg.RateLimit.OffenseThreshold,
		IgnoredAddresses: cfg.RateLimit.IgnoredAddresses,
	}, securityLogger, logger)

	authorityClient := authority.NewClient(cfg.Verify.AuthorityURL, cfg.Verify.AuthorityTimeout)

	verifyService := services.NewVerifyService(verifiedRepo, invalidatedRepo, authorityClient, services.VerifyConfig{
		BudgetPerMinute:            cfg.Verify.BudgetPerMinute,
		InvalidationAlertThreshold: cfg.Verify.InvalidationAlertThreshold,
	}, securityLogger, logger)

	queueService := services.NewQueueService(cfg.Queue.Capacity, logger)
	loadMonitor := services.NewLoadMonitor(cfg.Load.SuppressThreshold)

	admissionService := services.NewAdmissionService(services.AdmissionConfig{
		DrainPerTick: cfg.Queue.DrainPerTick,
	}, rateLimitService, verifyService, queueService, loadMonitor, securityLogger, logger)

	// Initialize scheduler for periodic tasks
	scheduler := background.NewScheduler(admissionService, verifyService, loadMonitor, background.SchedulerConfig{
		DrainInterval: cfg.Queue.DrainInterval,
	}, logger)

	// Initialize login listener
	listener, err := transport.NewListener(cfg.Server.ListenAddr, cfg.Server.UpstreamAddr, admissionService, logger)
	if err != nil {
		logger.Error("failed to initialize listener", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize handlers
	statusHandler := handlers.NewStatusHandler(admissionService, rateLimitService)

	// Setup operator API router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, statusHandler)

	adminServer := &http.Server{
		Addr:         cfg.Server.AdminAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start periodic tasks
	go scheduler.Start(ctx)

	// Start login listener
	go func() {
		if err := listener.ListenAndServe(ctx); err != nil {
			logger.Error("listener error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Start operator API server
	go func() {
		logger.Info("starting operator API", slog.String("addr", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("operator API error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cancel()
	scheduler.Stop()
	_ = listener.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("operator API shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
