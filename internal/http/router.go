package http

import (
	"time"

	"github.com/bounty-marketplace/backend/internal/config"
	"github.com/bounty-marketplace/backend/internal/http/handlers"
	"github.com/bounty-marketplace/backend/internal/middleware"
	"github.com/bounty-marketplace/backend/internal/rbac"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	bountyHandler *handlers.BountyHandler,
	applicationHandler *handlers.ApplicationHandler,
	webhookHandler *handlers.WebhookHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Processor webhooks: signature-verified, never rate limited. A limiter
	// here would turn delivery bursts into spurious redeliveries.
	app.Post("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/register", authHandler.Register)
	api.Post("/auth/login", authHandler.Login)

	// Rate-limited endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// User
	protected.Get("/me", userHandler.GetMe)
	protected.Post("/me/ping", userHandler.Ping)

	// Bounties
	protected.Get("/bounties", bountyHandler.ListBounties)
	protected.Get("/bounties/:id", bountyHandler.GetBounty)
	protected.Get("/bounties/:id/events", bountyHandler.GetBountyEvents)
	protected.Get("/bounties/:id/payment", bountyHandler.GetPaymentInfo)
	protected.Post("/bounties", middleware.RequirePermission(rbac.PermCreateBounty), bountyHandler.CreateBounty)
	protected.Post("/bounties/upfront", middleware.RequirePermission(rbac.PermCreateBounty), bountyHandler.CreateUpfrontBounty)
	protected.Post("/bounties/:id/fund", middleware.RequirePermission(rbac.PermFundBounty), bountyHandler.FundBounty)
	protected.Post("/bounties/:id/payout", middleware.RequirePermission(rbac.PermRequestPayout), bountyHandler.RequestPayout)
	protected.Post("/bounties/:id/refund", middleware.RequirePermission(rbac.PermRequestRefund), bountyHandler.RequestRefund)

	// Applications
	protected.Get("/bounties/:id/applications", applicationHandler.ListApplications)
	protected.Post("/bounties/:id/apply", middleware.RequirePermission(rbac.PermApplyToBounty), applicationHandler.Apply)
	protected.Post("/applications/:id/accept", middleware.RequirePermission(rbac.PermAcceptApplication), applicationHandler.AcceptApplication)
	protected.Post("/applications/:id/reject", middleware.RequirePermission(rbac.PermRejectApplication), applicationHandler.RejectApplication)
	protected.Post("/applications/:id/withdraw", middleware.RequirePermission(rbac.PermWithdrawApplication), applicationHandler.WithdrawApplication)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
