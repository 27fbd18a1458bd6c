package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/edge-gateway/internal/api/http"
	"github.com/spec-kit/edge-gateway/internal/api/http/handlers"
	"github.com/spec-kit/edge-gateway/internal/auth"
	"github.com/spec-kit/edge-gateway/internal/config"
	"github.com/spec-kit/edge-gateway/internal/events"
	"github.com/spec-kit/edge-gateway/internal/observability"
	"github.com/spec-kit/edge-gateway/internal/persistence"
	"github.com/spec-kit/edge-gateway/internal/repository"
	"github.com/spec-kit/edge-gateway/internal/service"
	"github.com/spec-kit/edge-gateway/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := observability.InitSentry(cfg.Sentry, cfg.App); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer observability.FlushSentry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var identities repository.IdentityRepository
	if pg.Enabled() {
		identities = repository.NewIdentityRepository(pg.Pool)
	} else {
		identities = repository.NewMemoryIdentityRepository()
	}

	metrics := observability.NewMetrics("auth_service")
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartSecurityAuditWorker(dispatcher, worker.NewSecurityAuditWorker(logger, metrics))

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		Identities: identities,
		Events:     dispatcher,
		Logger:     logger,
	})
	if cfg.Auth.SeedUsers {
		if err := authService.SeedUsers(ctx); err != nil {
			logger.Fatal("failed to seed users", zap.Error(err))
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterAuthRoutes(app, httptransport.AuthRouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
		}),
		Auth:           handlers.NewAuthHandler(authService),
		AuthMiddleware: auth.NewAuthMiddleware(authService.Tokens(), logger),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.ShutdownWithTimeout(10 * time.Second)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
