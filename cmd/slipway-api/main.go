package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irgordon/slipway/internal/api/handlers"
	"github.com/irgordon/slipway/internal/api/middleware"
	"github.com/irgordon/slipway/internal/api/router"
	"github.com/irgordon/slipway/internal/buildx"
	"github.com/irgordon/slipway/internal/config"
	"github.com/irgordon/slipway/internal/core/services"
	"github.com/irgordon/slipway/internal/db/postgres"
	"github.com/irgordon/slipway/internal/gitx"
	"github.com/irgordon/slipway/internal/health"
	"github.com/irgordon/slipway/internal/infrastructure/crypto"
	"github.com/irgordon/slipway/internal/logstream"
	"github.com/irgordon/slipway/internal/orchestrator"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	cfg := config.Load()

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	pool, err := postgres.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sqlxDB, err := postgres.ConnectSQLX(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer sqlxDB.Close()

	cryptoService, err := crypto.NewAESService(cfg.MasterKeyHex)
	if err != nil {
		logger.Error("invalid encryption key", "error", err)
		os.Exit(1)
	}

	// Repositories
	projectRepo := postgres.NewProjectRepo(pool)
	serverRepo := postgres.NewServerRepo(pool)
	deploymentRepo := postgres.NewDeploymentRepo(pool)
	logRepo := postgres.NewLogRepo(pool)
	userRepo := postgres.NewUserRepo(sqlxDB)
	auditRepo := postgres.NewAuditRepo(sqlxDB)

	// Deployments interrupted by the previous process cannot resume; their
	// remote state is unknown, so they are failed outright.
	if n, err := deploymentRepo.FailNonTerminal(context.Background(),
		"interrupted by control plane restart"); err != nil {
		logger.Error("startup reconcile failed", "error", err)
		os.Exit(1)
	} else if n > 0 {
		logger.Warn("failed interrupted deployments from previous run", "count", n)
	}

	// Services
	secretService := services.NewSecretService(cryptoService)
	authService := services.NewAuthService(userRepo, cfg.JWTSecret)
	registry := logstream.NewRegistry()

	orch := orchestrator.New(orchestrator.Params{
		Config:      cfg,
		Registry:    registry,
		Deployments: deploymentRepo,
		Projects:    projectRepo,
		Servers:     serverRepo,
		Logs:        logRepo,
		Fetcher:     gitx.NewFetcher(),
		Builder:     buildx.NewBuilder(cfg.LogVerbosity),
		Prober:      health.NewProber(cfg.LogVerbosity),
		Dial:        orchestrator.SSHDialer(cfg.SSHTimeout),
		Secrets:     secretService,
		Logger:      logger,
	})

	// Handlers
	audit := &handlers.AuditRecorder{Repo: auditRepo, Logger: logger}
	authMiddleware := middleware.NewAuthMiddleware(authService, userRepo, logger)

	mux := router.New(router.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Auth:           authMiddleware,
		AuthHandler: &handlers.AuthHandler{
			Auth: authService, Users: userRepo, Audit: audit, Logger: logger,
		},
		Projects: &handlers.ProjectHandler{
			Projects: projectRepo, Secrets: secretService, Audit: audit, Logger: logger,
		},
		Servers: &handlers.ServerHandler{
			Servers: serverRepo, Secrets: secretService,
			Dial: orchestrator.SSHDialer(cfg.SSHTimeout), Audit: audit, Logger: logger,
		},
		Deployments: &handlers.DeploymentHandler{
			Config: cfg, Deployments: deploymentRepo, Projects: projectRepo,
			Servers: serverRepo, Logs: logRepo, Orch: orch, Audit: audit, Logger: logger,
		},
		SSE: &handlers.SSEHandler{
			Registry: registry, Deployments: deploymentRepo, Logs: logRepo, Logger: logger,
		},
		WS: &handlers.WSHandler{
			Registry: registry, Deployments: deploymentRepo, Logs: logRepo,
			AllowedOrigins: cfg.AllowedOrigins, Logger: logger,
		},
		AuditLog: &handlers.AuditHandler{Repo: auditRepo},
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: log streams stay open for the life of a deployment.
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("slipway control plane listening", "port", cfg.Port, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server crashed", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced http shutdown", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("deployments still running at shutdown deadline; they will be failed on next start")
	}
	logger.Info("shutdown complete")
}
