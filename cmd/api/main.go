package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bounty-marketplace/backend/internal/config"
	"github.com/bounty-marketplace/backend/internal/db"
	"github.com/bounty-marketplace/backend/internal/escrow"
	"github.com/bounty-marketplace/backend/internal/events"
	apphttp "github.com/bounty-marketplace/backend/internal/http"
	"github.com/bounty-marketplace/backend/internal/http/handlers"
	"github.com/bounty-marketplace/backend/internal/repositories"
	"github.com/bounty-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	bountyRepo := repositories.NewBountyRepo(pool)
	escrowRepo := repositories.NewEscrowPaymentRepo(pool)
	applicationRepo := repositories.NewApplicationRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	stripeClient := services.NewStripeClient(cfg.StripeSecretKey, log)
	notifier := services.NewNotifierClient(cfg.NotifierInternalURL, log)
	bountyService := services.NewBountyService(bountyRepo, escrowRepo, applicationRepo, auditRepo, stripeClient, notifier, publisher, cfg, log)

	// Reconciliation engine
	engine := escrow.NewEngine(escrowRepo, bountyRepo, auditRepo, publisher, notifier, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, cfg, log)
	userHandler := handlers.NewUserHandler(userRepo, log)
	bountyHandler := handlers.NewBountyHandler(bountyService, log)
	applicationHandler := handlers.NewApplicationHandler(bountyService, log)
	webhookHandler := handlers.NewWebhookHandler(engine, cfg.StripeWebhookSecret, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, userHandler, bountyHandler, applicationHandler, webhookHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
