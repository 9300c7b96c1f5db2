package escrow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
)

var (
	// ErrSkipEvent marks processor events that do not belong to the escrow
	// flow (unrelated billing, foreign metadata). They are acknowledged and
	// dropped without processing.
	ErrSkipEvent = errors.New("event is not part of the escrow flow")

	// ErrInvalidEvent marks escrow-flow events whose metadata is missing a
	// required correlation key. They are logged and dropped without raising.
	ErrInvalidEvent = errors.New("event metadata is malformed")
)

// Metadata flow tags embedded by whatever created the original payment or
// transfer request.
const (
	flowEscrowPayment        = "escrow_payment"
	flowUpfrontEscrowPayment = "upfront_escrow_payment"
	flowEscrowPayout         = "escrow_payout"
	flowEscrowRefund         = "escrow_refund"
)

const (
	metaFlowType        = "type"
	metaEscrowPaymentID = "escrow_payment_id"
	metaBountyID        = "bounty_id"
)

type paymentIntentPayload struct {
	ID               string            `json:"id"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type checkoutSessionPayload struct {
	ID       string            `json:"id"`
	Mode     string            `json:"mode"`
	Metadata map[string]string `json:"metadata"`
}

type transferPayload struct {
	ID       string            `json:"id"`
	Reversed bool              `json:"reversed"`
	Metadata map[string]string `json:"metadata"`
}

type chargePayload struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// Normalize maps a verified processor event onto the internal event union.
// It returns ErrSkipEvent for events outside the escrow flow and
// ErrInvalidEvent when a required correlation key is absent; callers
// acknowledge both without touching any state.
func Normalize(event stripe.Event) (NormalizedEvent, error) {
	eventType := string(event.Type)

	// Billing families are out of escrow scope entirely.
	if strings.HasPrefix(eventType, "customer.subscription.") || strings.HasPrefix(eventType, "invoice.") {
		return NormalizedEvent{}, ErrSkipEvent
	}

	switch eventType {
	case "payment_intent.created":
		p, err := decodePaymentIntent(event)
		if err != nil {
			return NormalizedEvent{}, err
		}
		return normalizedFromMetadata(EventPaymentCreated, p.Metadata, func(ev *NormalizedEvent) {
			ev.PaymentIntentID = p.ID
		})

	case "payment_intent.succeeded":
		p, err := decodePaymentIntent(event)
		if err != nil {
			return NormalizedEvent{}, err
		}
		return normalizedFromMetadata(EventPaymentSucceeded, p.Metadata, func(ev *NormalizedEvent) {
			ev.PaymentIntentID = p.ID
		})

	case "payment_intent.payment_failed", "payment_intent.failed", "payment_intent.canceled":
		p, err := decodePaymentIntent(event)
		if err != nil {
			return NormalizedEvent{}, err
		}
		reason := "payment_failed"
		if eventType == "payment_intent.canceled" {
			reason = "payment_canceled"
		}
		if p.LastPaymentError != nil && p.LastPaymentError.Message != "" {
			reason = p.LastPaymentError.Message
		}
		return normalizedFromMetadata(EventPaymentFailed, p.Metadata, func(ev *NormalizedEvent) {
			ev.PaymentIntentID = p.ID
			ev.Reason = reason
		})

	case "checkout.session.completed":
		var p checkoutSessionPayload
		if err := json.Unmarshal(event.Data.Raw, &p); err != nil {
			return NormalizedEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		return normalizedFromMetadata(EventCheckoutCompleted, p.Metadata, func(ev *NormalizedEvent) {
			ev.CheckoutMode = p.Mode
			ev.Upfront = p.Metadata[metaFlowType] == flowUpfrontEscrowPayment
		})

	case "transfer.created":
		var p transferPayload
		if err := json.Unmarshal(event.Data.Raw, &p); err != nil {
			return NormalizedEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		return normalizedFromMetadata(EventTransferCreated, p.Metadata, func(ev *NormalizedEvent) {
			ev.TransferID = p.ID
		})

	case "transfer.updated", "transfer.paid":
		var p transferPayload
		if err := json.Unmarshal(event.Data.Raw, &p); err != nil {
			return NormalizedEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		succeeded := !p.Reversed
		if eventType == "transfer.paid" {
			succeeded = true
		}
		return normalizedFromMetadata(EventTransferSettled, p.Metadata, func(ev *NormalizedEvent) {
			ev.TransferID = p.ID
			ev.TransferSucceeded = succeeded
		})

	case "charge.refunded":
		var p chargePayload
		if err := json.Unmarshal(event.Data.Raw, &p); err != nil {
			return NormalizedEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		return normalizedFromMetadata(EventChargeRefunded, p.Metadata, nil)
	}

	return NormalizedEvent{}, ErrSkipEvent
}

func decodePaymentIntent(event stripe.Event) (paymentIntentPayload, error) {
	var p paymentIntentPayload
	if err := json.Unmarshal(event.Data.Raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return p, nil
}

// normalizedFromMetadata validates the shared metadata contract (flow tag,
// escrow payment id, optional bounty id) and lets fill set kind-specific
// fields.
func normalizedFromMetadata(kind EventKind, meta map[string]string, fill func(*NormalizedEvent)) (NormalizedEvent, error) {
	switch meta[metaFlowType] {
	case flowEscrowPayment, flowUpfrontEscrowPayment, flowEscrowPayout, flowEscrowRefund:
	default:
		return NormalizedEvent{}, ErrSkipEvent
	}

	escrowID, err := uuid.Parse(meta[metaEscrowPaymentID])
	if err != nil {
		return NormalizedEvent{}, fmt.Errorf("%w: missing or invalid %s", ErrInvalidEvent, metaEscrowPaymentID)
	}

	ev := NormalizedEvent{Kind: kind, EscrowPaymentID: escrowID}
	if raw, ok := meta[metaBountyID]; ok && raw != "" {
		if bountyID, err := uuid.Parse(raw); err == nil {
			ev.BountyID = &bountyID
		}
	}
	if fill != nil {
		fill(&ev)
	}
	return ev, nil
}
