package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/edge-gateway/internal/api/http"
	"github.com/spec-kit/edge-gateway/internal/api/http/handlers"
	"github.com/spec-kit/edge-gateway/internal/auth"
	"github.com/spec-kit/edge-gateway/internal/config"
	"github.com/spec-kit/edge-gateway/internal/gateway"
	"github.com/spec-kit/edge-gateway/internal/observability"
	"github.com/spec-kit/edge-gateway/internal/persistence"
	"github.com/spec-kit/edge-gateway/internal/ratelimit"
	"github.com/spec-kit/edge-gateway/internal/routing"
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

	metrics := observability.NewMetrics("edge_gateway")

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	limiter := ratelimit.NewLimiter(counterStore(cfg.RateLimit, redis, metrics, logger), cfg.RateLimit,
		ratelimit.WithLogger(logger))

	routes, err := routing.LoadRoutes(cfg.Gateway)
	if err != nil {
		logger.Fatal("invalid route table", zap.Error(err))
	}
	dispatcher, err := routing.NewDispatcher(routes, cfg.Gateway, logger, metrics)
	if err != nil {
		logger.Fatal("failed to build dispatcher", zap.Error(err))
	}

	chain := gateway.NewChain(dispatcher.Handle, metrics,
		gateway.NewTraceFilter(logger),
		gateway.NewAuthenticateFilter(auth.NewTokenService(cfg.Auth), cfg.Gateway.PublicPaths, logger),
		gateway.NewRateLimitFilter(limiter, cfg.RateLimit.ClientIDHeader, metrics, logger),
	)
	logger.Info("gateway ready",
		zap.Strings("filters", chain.Names()),
		zap.Int("routes", len(routes)),
	)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	// Requests are recorded per route by the dispatcher.
	httptransport.RegisterMiddlewares(app, logger, nil, cfg.App.RequestTimeout())
	httptransport.RegisterGatewayRoutes(app, httptransport.GatewayRouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"redis": redis,
		}),
		Chain:    chain,
		Fallback: routing.NewFallbackHandler(logger),
		Metrics:  metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.ShutdownWithTimeout(10 * time.Second)
}

func counterStore(cfg config.RateLimitConfig, redis *persistence.Redis, metrics *observability.Metrics, logger *zap.Logger) ratelimit.CounterStore {
	if cfg.UseInMemoryCounts || !redis.Enabled() {
		logger.Warn("rate-limit counters are process local")
		return ratelimit.NewMemoryCounterStore(time.Now)
	}

	var store ratelimit.CounterStore = ratelimit.NewRedisCounterStore(redis.Client)
	if cfg.StoreBreakerFailures > 0 {
		store = ratelimit.NewBreakerStore(store, uint32(cfg.StoreBreakerFailures), cfg.StoreBreakerCooldown,
			func(from, to gobreaker.State) {
				logger.Warn("rate-limit store breaker state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
				metrics.RecordBreakerTransition("rate-limit-store", from.String(), to.String())
			})
	}
	return store
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
