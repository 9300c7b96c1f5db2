package handlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bounty-marketplace/backend/internal/escrow"
	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test_secret"

func webhookApp() *fiber.App {
	engine := escrow.NewEngine(nil, nil, nil, nil, nil, zap.NewNop())
	h := NewWebhookHandler(engine, testWebhookSecret, zap.NewNop())

	app := fiber.New()
	app.Post("/webhooks/stripe", h.HandleStripeWebhook)
	return app
}

func TestWebhookRejectsWrongMethod(t *testing.T) {
	app := webhookApp()

	req := httptest.NewRequest("GET", "/webhooks/stripe", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusMethodNotAllowed)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	app := webhookApp()

	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(`{}`))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	app := webhookApp()

	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}

func TestWebhookAcksSignedForeignEvent(t *testing.T) {
	app := webhookApp()

	// Properly signed but outside the escrow flow: acknowledged, no state
	// is touched (the engine's stores are nil and must never be reached).
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"api_version": %q,
		"type": "invoice.paid",
		"data": {"object": {}}
	}`, stripe.APIVersion))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testWebhookSecret,
	})

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, fiber.StatusOK, body)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"received":true`) {
		t.Errorf("body = %s, want received ack", body)
	}
}

func TestWebhookAcksMalformedEscrowEvent(t *testing.T) {
	app := webhookApp()

	// Escrow flow tag but no correlation id: signed, acknowledged, dropped.
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_2",
		"api_version": %q,
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_x", "metadata": {"type": "escrow_payment"}}}
	}`, stripe.APIVersion))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testWebhookSecret,
	})

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}
