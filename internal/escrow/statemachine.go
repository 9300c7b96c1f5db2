package escrow

import (
	"github.com/bounty-marketplace/backend/internal/models"
	"github.com/google/uuid"
)

// BountyPatch is the bounty-side projection of an escrow transition. Nil
// fields are left untouched.
type BountyPatch struct {
	Status          *string
	PaymentStatus   *string
	EscrowPaymentID *uuid.UUID
}

// Outcome describes the writes implied by applying one normalized event to
// the current persisted state. Nil pointer fields mean "leave as is".
type Outcome struct {
	NextStatus string

	// Correlation ids to attach on the escrow record, set once, never unset.
	PaymentIntentID *string
	TransferID      *string

	FailureReason *string

	// Materialize asks for a bounty to be created from the staged bounty
	// data (upfront flow). ClearBountyData accompanies it, but the engine
	// clears the staging slot only after the bounty row lands so a failed
	// create keeps the definition recoverable.
	Materialize     bool
	ClearBountyData bool

	// Patch is the write against the linked bounty, deferred or dropped by
	// the caller when no bounty exists yet.
	Patch *BountyPatch

	// Noop marks an idempotent replay or an unrecognized (status, event)
	// pair: nothing to persist.
	Noop bool
}

// Transition computes the next escrow state and the bounty-side patch for a
// normalized event. Pure function: no I/O, total over its input domain, safe
// to exercise with literal fixtures. bounty may be nil when no bounty is
// linked or the linked record is missing.
func Transition(esc *models.EscrowPayment, bounty *models.Bounty, ev NormalizedEvent) Outcome {
	out := Outcome{NextStatus: esc.Status, Noop: true}

	// released and refunded never transition again.
	if models.IsTerminalEscrowStatus(esc.Status) {
		return out
	}

	switch ev.Kind {
	case EventPaymentCreated:
		if esc.Status != models.EscrowStatusPending {
			return out
		}
		if esc.ProcessorPaymentIntentID == nil && ev.PaymentIntentID != "" {
			out.PaymentIntentID = &ev.PaymentIntentID
			out.Noop = false
		}
		return out

	case EventPaymentSucceeded, EventCheckoutCompleted:
		if esc.Status != models.EscrowStatusPending {
			if esc.Status == models.EscrowStatusHeldInEscrow {
				// Duplicate delivery after the money already moved.
				switch {
				case esc.BountyData != nil && bounty == nil:
					// A prior delivery never landed the bounty row; run the
					// materialization again from the kept staged data.
					out.Materialize = true
					out.ClearBountyData = true
					out.Noop = false
				case esc.BountyData != nil:
					// Row landed but the staging slot was never cleared.
					out.ClearBountyData = true
					out.Noop = false
				case bounty != nil && bounty.EscrowPaymentID == nil:
					id := esc.ID
					out.Patch = &BountyPatch{EscrowPaymentID: &id}
					out.Noop = false
				}
			}
			return out
		}

		out.Noop = false
		out.NextStatus = models.EscrowStatusHeldInEscrow
		if esc.ProcessorPaymentIntentID == nil && ev.PaymentIntentID != "" {
			out.PaymentIntentID = &ev.PaymentIntentID
		}

		if esc.BountyData != nil {
			// Upfront flow: the bounty does not exist yet, create it from
			// the staged definition and clear the staging slot.
			out.Materialize = true
			out.ClearBountyData = true
			return out
		}

		status := models.BountyStatusActive
		pay := models.BountyPaymentHeldInEscrow
		out.Patch = &BountyPatch{Status: &status, PaymentStatus: &pay}
		if bounty != nil && bounty.EscrowPaymentID == nil {
			id := esc.ID
			out.Patch.EscrowPaymentID = &id
		}
		return out

	case EventPaymentFailed:
		if esc.Status != models.EscrowStatusPending {
			return out
		}
		out.Noop = false
		out.NextStatus = models.EscrowStatusFailed
		reason := ev.Reason
		if reason == "" {
			reason = "payment_failed"
		}
		out.FailureReason = &reason
		if esc.ProcessorPaymentIntentID == nil && ev.PaymentIntentID != "" {
			out.PaymentIntentID = &ev.PaymentIntentID
		}
		pay := models.BountyPaymentFailed
		out.Patch = &BountyPatch{PaymentStatus: &pay}
		return out

	case EventTransferCreated:
		// Two-phase transfer lifecycle: created only attaches the transfer
		// id for later correlation, status does not change.
		if esc.Status != models.EscrowStatusHeldInEscrow {
			return out
		}
		if esc.ProcessorTransferID == nil && ev.TransferID != "" {
			out.TransferID = &ev.TransferID
			out.Noop = false
		}
		return out

	case EventTransferSettled:
		if esc.Status != models.EscrowStatusHeldInEscrow {
			return out
		}
		out.Noop = false
		if esc.ProcessorTransferID == nil && ev.TransferID != "" {
			out.TransferID = &ev.TransferID
		}
		if ev.TransferSucceeded {
			out.NextStatus = models.EscrowStatusReleased
			status := models.BountyStatusCompleted
			pay := models.BountyPaymentReleased
			out.Patch = &BountyPatch{Status: &status, PaymentStatus: &pay}
		} else {
			out.NextStatus = models.EscrowStatusTransferFailed
		}
		return out

	case EventChargeRefunded:
		if esc.Status != models.EscrowStatusHeldInEscrow {
			return out
		}
		out.Noop = false
		out.NextStatus = models.EscrowStatusRefunded
		pay := models.BountyPaymentRefunded
		out.Patch = &BountyPatch{PaymentStatus: &pay}
		return out
	}

	// Unknown kinds are filtered by the normalizer; re-validate anyway.
	return out
}
