package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow payment statuses. An escrow payment is created in pending and is
// mutated exclusively by processor webhook events after that.
const (
	EscrowStatusPending        = "pending"
	EscrowStatusHeldInEscrow   = "held_in_escrow"
	EscrowStatusReleased       = "released"
	EscrowStatusRefunded       = "refunded"
	EscrowStatusFailed         = "failed"
	EscrowStatusTransferFailed = "transfer_failed"
)

// IsTerminalEscrowStatus reports whether the status may never transition
// again. Re-delivery of a terminating event against a terminal record is a
// no-op.
func IsTerminalEscrowStatus(status string) bool {
	return status == EscrowStatusReleased || status == EscrowStatusRefunded
}

// StagedBounty is the bounty definition staged on an escrow payment in the
// upfront flow ("pay first, create bounty on success"). It is cleared in the
// same update that records the materialized bounty id.
type StagedBounty struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	RewardCents int64      `json:"reward_cents"`
	Currency    string     `json:"currency"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

type EscrowPayment struct {
	ID                       uuid.UUID     `json:"id"`
	Status                   string        `json:"status"`
	BountyID                 *uuid.UUID    `json:"bounty_id,omitempty"`
	ProcessorPaymentIntentID *string       `json:"processor_payment_intent_id,omitempty"`
	ProcessorTransferID      *string       `json:"processor_transfer_id,omitempty"`
	BountyData               *StagedBounty `json:"bounty_data,omitempty"`
	BusinessID               uuid.UUID     `json:"business_id"`
	AmountCents              int64         `json:"amount_cents"`
	Currency                 string        `json:"currency"`
	FailureReason            *string       `json:"failure_reason,omitempty"`
	CreatedAt                time.Time     `json:"created_at"`
	UpdatedAt                time.Time     `json:"updated_at"`
}
