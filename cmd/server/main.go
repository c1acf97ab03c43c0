package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hermes-backend/internal/admin"
	"hermes-backend/internal/auth"
	"hermes-backend/internal/breaker"
	"hermes-backend/internal/config"
	"hermes-backend/internal/engine"
	"hermes-backend/internal/monitoring"
	"hermes-backend/internal/ratelimit"
	"hermes-backend/internal/retry"
	"hermes-backend/internal/stores"
	"hermes-backend/internal/webhook"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, analytics: %s:%d/%s)",
		cfg.Server.Port, cfg.Stores.Analytics.Host, cfg.Stores.Analytics.Port, cfg.Stores.Analytics.Name)
	if cfg.Webhook.Secret == "" {
		log.Println("WARN: webhook.secret not set, signature checking disabled")
	}

	// 2. Metrics
	var metrics *monitoring.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitoring.New()
	}

	// 3. Connect analytics store and bootstrap its tables
	analytics, err := stores.NewAnalyticsRecorder(ctx, stores.AnalyticsConfig{
		Host:     cfg.Stores.Analytics.Host,
		Port:     cfg.Stores.Analytics.Port,
		User:     cfg.Stores.Analytics.User,
		Password: cfg.Stores.Analytics.Password,
		Name:     cfg.Stores.Analytics.Name,
		PoolSize: cfg.Stores.Analytics.PoolSize,
	})
	if err != nil {
		log.Fatalf("Failed to connect to analytics store: %v", err)
	}
	defer analytics.Close()
	if err := analytics.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap analytics tables: %v", err)
	}
	log.Println("Analytics store ready")

	// 4. Graph and vector store clients
	graph := stores.NewGraphClient(stores.GraphConfig{
		BaseURL: cfg.Stores.Graph.BaseURL,
		APIKey:  cfg.Stores.Graph.APIKey,
		Timeout: cfg.Stores.Graph.Timeout(),
	})
	vector := stores.NewVectorClient(stores.VectorConfig{
		BaseURL:    cfg.Stores.Vector.BaseURL,
		APIKey:     cfg.Stores.Vector.APIKey,
		Collection: cfg.Stores.Vector.Collection,
		Timeout:    cfg.Stores.Vector.Timeout(),
	})

	// 5. Per-target circuit breakers
	breakers := breaker.NewSet(breaker.Settings{
		FailureThreshold: cfg.Sync.Breaker.FailureThreshold,
		Cooldown:         cfg.Sync.Breaker.Cooldown(),
	}, func(target string, from, to breaker.Status) {
		log.Printf("WARN: circuit %s: %s -> %s", target, from, to)
		metrics.CircuitTransition(target, string(to))
	}, engine.TargetNames()...)

	// 6. Rate limiter
	limiter := newLimiter(cfg.RateLimit.Redis)
	defer limiter.Close()

	// 7. Webhook validator
	validator, err := webhook.NewValidator(webhook.Config{
		Secret:          cfg.Webhook.Secret,
		TopicHeader:     cfg.Webhook.TopicHeader,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		DeliveryHeader:  cfg.Webhook.DeliveryHeader,
		MaxBodyBytes:    cfg.Webhook.MaxBodyBytes,
		MaxDepth:        cfg.Webhook.MaxDepth,
	})
	if err != nil {
		log.Fatalf("Failed to build webhook validator: %v", err)
	}

	// 8. Fan-out orchestrator
	conditions, err := buildConditions(cfg.Stores)
	if err != nil {
		log.Fatalf("Failed to compile routing conditions: %v", err)
	}
	orch := engine.NewOrchestrator(graph, vector, analytics, breakers, engine.OrchestratorOptions{
		RetryPolicy: retry.Policy{
			MaxAttempts: cfg.Sync.Retry.MaxAttempts,
			BaseDelay:   cfg.Sync.Retry.BaseDelay(),
			MaxDelay:    cfg.Sync.Retry.MaxDelay(),
			Multiplier:  cfg.Sync.Retry.Multiplier,
		},
		FanoutTimeout: cfg.Sync.FanoutTimeout(),
		Conditions:    conditions,
	}, metrics)

	// 9. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 10. Health check and metrics endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	// 11. Sync endpoint (rate limited, signature checked inside)
	limitMW := ratelimit.Middleware(limiter, ratelimit.Options{
		Window:      cfg.RateLimit.Window(),
		MaxRequests: cfg.RateLimit.MaxRequests,
		KeyPrefix:   cfg.RateLimit.KeyPrefix,
	}, nil, metrics)
	syncHandler := engine.NewSyncHandler(validator, orch, metrics)
	engine.RegisterSyncRoutes(app, syncHandler, limitMW)

	// 12. Admin routes (auth + admin required)
	authMW := auth.AuthMiddleware(cfg.JWTSecret)
	adminMW := auth.RequireAdmin()
	adminHandler := admin.NewHandler(breakers, limiter)
	admin.RegisterAdminRoutes(app, adminHandler, authMW, adminMW)

	// 13. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

// newLimiter prefers the shared Redis backend when configured; a missing or
// unreachable Redis falls back to the per-process limiter rather than
// blocking startup.
func newLimiter(cfg config.RedisConfig) ratelimit.Limiter {
	if cfg.Addr == "" {
		return ratelimit.NewMemoryLimiter()
	}
	limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		log.Printf("WARN: redis limiter unavailable, falling back to memory: %v", err)
		return ratelimit.NewMemoryLimiter()
	}
	log.Printf("Rate limiter backed by redis at %s", cfg.Addr)
	return limiter
}

func buildConditions(cfg config.StoresConfig) (map[engine.Target]*engine.Condition, error) {
	conditions := make(map[engine.Target]*engine.Condition, 3)
	for target, src := range map[engine.Target]string{
		engine.TargetGraph:     cfg.Graph.Condition,
		engine.TargetVector:    cfg.Vector.Condition,
		engine.TargetAnalytics: cfg.Analytics.Condition,
	} {
		cond, err := engine.CompileCondition(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", target, err)
		}
		conditions[target] = cond
	}
	return conditions, nil
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
