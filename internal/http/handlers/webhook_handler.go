package handlers

import (
	"github.com/bounty-marketplace/backend/internal/escrow"
	"github.com/bounty-marketplace/backend/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

// WebhookHandler receives processor events. Returning a non-2xx status tells
// the processor to redeliver, so only store failures surface as errors;
// unparseable or irrelevant events are acknowledged and dropped.
type WebhookHandler struct {
	engine        *escrow.Engine
	webhookSecret string
	log           *zap.Logger
}

func NewWebhookHandler(engine *escrow.Engine, webhookSecret string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{engine: engine, webhookSecret: webhookSecret, log: log}
}

func (h *WebhookHandler) HandleStripeWebhook(c *fiber.Ctx) error {
	sig := c.Get("Stripe-Signature")
	if sig == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "missing signature header"})
	}

	event, err := webhook.ConstructEvent(c.Body(), sig, h.webhookSecret)
	if err != nil {
		h.log.Warn("webhook signature verification failed", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid signature"})
	}

	if err := h.engine.ProcessEvent(c.Context(), event); err != nil {
		h.log.Error("webhook processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "processing failed"})
	}

	return c.JSON(fiber.Map{"received": true})
}
