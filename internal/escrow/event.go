package escrow

import "github.com/google/uuid"

// EventKind tags the normalized event union.
type EventKind string

const (
	EventPaymentCreated    EventKind = "payment_created"
	EventPaymentSucceeded  EventKind = "payment_succeeded"
	EventPaymentFailed     EventKind = "payment_failed"
	EventCheckoutCompleted EventKind = "checkout_completed"
	EventTransferCreated   EventKind = "transfer_created"
	EventTransferSettled   EventKind = "transfer_settled"
	EventChargeRefunded    EventKind = "charge_refunded"
)

// NormalizedEvent is the internal, stable representation of a processor
// webhook, decoupled from the processor's own payload shapes. Only the fields
// relevant to the tagged Kind are populated.
type NormalizedEvent struct {
	Kind            EventKind
	EscrowPaymentID uuid.UUID
	BountyID        *uuid.UUID

	// Correlation ids from the processor, set once known.
	PaymentIntentID string
	TransferID      string

	// PaymentFailed
	Reason string

	// CheckoutCompleted
	CheckoutMode string
	Upfront      bool

	// TransferSettled
	TransferSucceeded bool
}
