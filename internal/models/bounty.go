package models

import (
	"time"

	"github.com/google/uuid"
)

// Bounty statuses
const (
	BountyStatusPending    = "pending"
	BountyStatusActive     = "active"
	BountyStatusInProgress = "in_progress"
	BountyStatusCompleted  = "completed"
)

// Bounty payment statuses mirror the bounty-facing subset of escrow payment
// statuses. The escrow record is the source of truth; this column is a
// best-effort projection for read paths.
const (
	BountyPaymentHeldInEscrow = "held_in_escrow"
	BountyPaymentFailed       = "failed"
	BountyPaymentReleased     = "released"
	BountyPaymentRefunded     = "refunded"
)

// Valid state transitions: from -> []to
var ValidBountyTransitions = map[string][]string{
	BountyStatusPending:    {BountyStatusActive},
	BountyStatusActive:     {BountyStatusInProgress, BountyStatusCompleted},
	BountyStatusInProgress: {BountyStatusCompleted},
	BountyStatusCompleted:  {},
}

func IsValidBountyTransition(from, to string) bool {
	allowed, ok := ValidBountyTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// MirroredPaymentStatus maps an escrow payment status to the bounty
// projection column. ok is false for statuses the bounty does not mirror
// (pending, transfer_failed).
func MirroredPaymentStatus(escrowStatus string) (string, bool) {
	switch escrowStatus {
	case EscrowStatusHeldInEscrow:
		return BountyPaymentHeldInEscrow, true
	case EscrowStatusFailed:
		return BountyPaymentFailed, true
	case EscrowStatusReleased:
		return BountyPaymentReleased, true
	case EscrowStatusRefunded:
		return BountyPaymentRefunded, true
	}
	return "", false
}

type Bounty struct {
	ID                uuid.UUID  `json:"id"`
	BusinessID        uuid.UUID  `json:"business_id"`
	Status            string     `json:"status"`
	PaymentStatus     *string    `json:"payment_status,omitempty"`
	EscrowPaymentID   *uuid.UUID `json:"escrow_payment_id,omitempty"`
	Title             string     `json:"title"`
	Description       *string    `json:"description,omitempty"`
	RewardCents       int64      `json:"reward_cents"`
	Currency          string     `json:"currency"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	ApplicationsCount int        `json:"applications_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
