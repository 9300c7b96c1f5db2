package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bounty-marketplace/backend/internal/events"
	"github.com/bounty-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

// ErrStoreFailure wraps store errors on the authoritative escrow write path.
// The webhook handler maps it to a 500 so the processor redelivers the event.
var ErrStoreFailure = errors.New("escrow store failure")

// maxTransitionAttempts bounds re-decision when a concurrent delivery
// advances the record between our read and our conditional write.
const maxTransitionAttempts = 3

// EscrowUpdate is one logical write against an escrow payment record. Nil
// pointer fields leave the column untouched; correlation ids are attached via
// COALESCE so they are set once and never unset.
type EscrowUpdate struct {
	Status          string
	PaymentIntentID *string
	TransferID      *string
	FailureReason   *string
	BountyID        *uuid.UUID
	ClearBountyData bool
}

type EscrowStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error)
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.EscrowPayment, error)
	// ApplyTransition performs the update only if the record still carries
	// expectedStatus, and reports whether a row was written.
	ApplyTransition(ctx context.Context, id uuid.UUID, expectedStatus string, u EscrowUpdate) (bool, error)
}

type BountyStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Bounty, error)
	Create(ctx context.Context, b *models.Bounty) error
	ApplyPatch(ctx context.Context, id uuid.UUID, patch BountyPatch) error
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// Notifier is the best-effort CRM/notification sink. Failures are logged and
// swallowed, never surfaced to the processor.
type Notifier interface {
	EscrowStatusChanged(ctx context.Context, escrowPaymentID uuid.UUID, oldStatus, newStatus string) error
}

// Engine is the webhook-processing pipeline: normalization, idempotent
// dispatch, state machine, persistence, async side effects. One invocation
// per delivered event, no shared state between invocations. All collaborators
// are injected; there are no package-level handles.
type Engine struct {
	escrows   EscrowStore
	bounties  BountyStore
	audit     AuditStore
	publisher events.Publisher
	notifier  Notifier
	log       *zap.Logger
}

func NewEngine(
	escrows EscrowStore,
	bounties BountyStore,
	audit AuditStore,
	publisher events.Publisher,
	notifier Notifier,
	log *zap.Logger,
) *Engine {
	return &Engine{
		escrows:   escrows,
		bounties:  bounties,
		audit:     audit,
		publisher: publisher,
		notifier:  notifier,
		log:       log,
	}
}

// ProcessEvent runs one verified processor event through the pipeline. A nil
// return means the event is settled from the processor's point of view:
// applied, replayed, skipped, or dropped as malformed. Only ErrStoreFailure
// asks for redelivery.
func (e *Engine) ProcessEvent(ctx context.Context, event stripe.Event) error {
	ev, err := Normalize(event)
	if err != nil {
		switch {
		case errors.Is(err, ErrSkipEvent):
			e.log.Debug("skipping non-escrow event", zap.String("event_type", string(event.Type)))
			return nil
		case errors.Is(err, ErrInvalidEvent):
			e.log.Warn("dropping malformed escrow event",
				zap.String("event_type", string(event.Type)),
				zap.Error(err),
			)
			return nil
		default:
			return err
		}
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		done, err := e.processOnce(ctx, event, ev)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		// Someone else advanced the record between our read and our write.
		// Re-read and re-decide whether the now-current state still needs
		// this event applied.
		e.log.Info("escrow transition raced, re-deciding",
			zap.String("escrow_payment_id", ev.EscrowPaymentID.String()),
			zap.Int("attempt", attempt+1),
		)
	}
	return fmt.Errorf("%w: transition contention on escrow payment %s", ErrStoreFailure, ev.EscrowPaymentID)
}

func (e *Engine) processOnce(ctx context.Context, raw stripe.Event, ev NormalizedEvent) (bool, error) {
	esc, err := e.loadEscrow(ctx, ev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Redelivery will not manifest the missing record; acknowledge.
			e.log.Warn("escrow payment not found for event",
				zap.String("escrow_payment_id", ev.EscrowPaymentID.String()),
				zap.String("event_type", string(raw.Type)),
			)
			return true, nil
		}
		return false, fmt.Errorf("%w: load escrow payment: %v", ErrStoreFailure, err)
	}

	bounty := e.loadBounty(ctx, esc, ev)

	out := Transition(esc, bounty, ev)
	if out.Noop {
		e.log.Info("idempotent replay",
			zap.String("escrow_payment_id", esc.ID.String()),
			zap.String("event_type", string(raw.Type)),
			zap.String("status", esc.Status),
		)
		_ = e.audit.Log(ctx, models.AuditLog{
			ActorType:  models.ActorWebhook,
			Action:     "escrow_event_replay",
			EntityType: "escrow_payment",
			EntityID:   &esc.ID,
			Meta:       map[string]any{"event_type": string(raw.Type), "status": esc.Status},
		})
		return true, nil
	}

	update := EscrowUpdate{
		Status:          out.NextStatus,
		PaymentIntentID: out.PaymentIntentID,
		TransferID:      out.TransferID,
		FailureReason:   out.FailureReason,
		// When materializing, the clear is deferred until the bounty row
		// lands (see applyBountySide); otherwise it is safe inline.
		ClearBountyData: out.ClearBountyData && !out.Materialize,
	}

	// For the upfront flow the bounty id is chosen before either write so
	// the escrow record and the new bounty row agree even though they are
	// separate statements. The staging slot is cleared only after the
	// bounty row lands; until then a failed create leaves the definition
	// on the record for a redelivery to materialize.
	var staged *models.Bounty
	if out.Materialize {
		bountyID := uuid.New()
		if esc.BountyID != nil {
			bountyID = *esc.BountyID
		}
		update.BountyID = &bountyID
		staged = bountyFromStaged(bountyID, esc)
	}

	applied, err := e.escrows.ApplyTransition(ctx, esc.ID, esc.Status, update)
	if err != nil {
		return false, fmt.Errorf("%w: apply escrow transition: %v", ErrStoreFailure, err)
	}
	if !applied {
		return false, nil
	}

	// Escrow status is the source of truth for money movement. Everything
	// past this point is a best-effort projection and must never surface as
	// a processing failure.
	e.applyBountySide(ctx, esc, bounty, out, staged)

	_ = e.audit.Log(ctx, models.AuditLog{
		ActorType:  models.ActorWebhook,
		Action:     fmt.Sprintf("escrow_status_%s_to_%s", esc.Status, out.NextStatus),
		EntityType: "escrow_payment",
		EntityID:   &esc.ID,
		Meta:       map[string]any{"event_type": string(raw.Type)},
	})

	if out.NextStatus != esc.Status {
		e.notifyAsync(esc, esc.Status, out.NextStatus)
	}
	return true, nil
}

// loadEscrow resolves the record by the metadata correlation id, falling back
// to the processor's payment intent id when the metadata points nowhere; the
// intent id is attached at creation time and survives metadata mistakes.
func (e *Engine) loadEscrow(ctx context.Context, ev NormalizedEvent) (*models.EscrowPayment, error) {
	esc, err := e.escrows.GetByID(ctx, ev.EscrowPaymentID)
	if err == nil || !errors.Is(err, pgx.ErrNoRows) || ev.PaymentIntentID == "" {
		return esc, err
	}

	esc, intentErr := e.escrows.GetByPaymentIntentID(ctx, ev.PaymentIntentID)
	if intentErr != nil {
		return nil, err
	}
	e.log.Warn("escrow payment resolved by payment intent, metadata id is stale",
		zap.String("metadata_escrow_payment_id", ev.EscrowPaymentID.String()),
		zap.String("payment_intent_id", ev.PaymentIntentID),
		zap.String("escrow_payment_id", esc.ID.String()),
	)
	return esc, nil
}

func (e *Engine) loadBounty(ctx context.Context, esc *models.EscrowPayment, ev NormalizedEvent) *models.Bounty {
	id := esc.BountyID
	if id == nil {
		id = ev.BountyID
	}
	if id == nil {
		return nil
	}

	b, err := e.bounties.GetByID(ctx, *id)
	if err != nil {
		// Escrow state must never be blocked by a missing bounty; the patch
		// is dropped and the projection repaired out of band.
		if errors.Is(err, pgx.ErrNoRows) {
			e.log.Warn("referenced bounty not found, escrow side proceeds alone",
				zap.String("bounty_id", id.String()),
				zap.String("escrow_payment_id", esc.ID.String()),
			)
		} else {
			e.log.Error("bounty lookup failed, escrow side proceeds alone",
				zap.String("bounty_id", id.String()),
				zap.Error(err),
			)
		}
		return nil
	}
	return b
}

func (e *Engine) applyBountySide(ctx context.Context, esc *models.EscrowPayment, bounty *models.Bounty, out Outcome, staged *models.Bounty) {
	switch {
	case staged != nil:
		if err := e.bounties.Create(ctx, staged); err != nil {
			e.log.Error("bounty materialization failed after escrow write, staged data kept for redelivery",
				zap.String("escrow_payment_id", esc.ID.String()),
				zap.String("bounty_id", staged.ID.String()),
				zap.Error(err),
			)
			_ = e.audit.Log(ctx, models.AuditLog{
				ActorType:  models.ActorWebhook,
				Action:     "bounty_materialization_diverged",
				EntityType: "escrow_payment",
				EntityID:   &esc.ID,
				Meta: map[string]any{
					"bounty_id": staged.ID.String(),
					"staged":    esc.BountyData,
				},
			})
			return
		}
		if out.ClearBountyData {
			if _, err := e.escrows.ApplyTransition(ctx, esc.ID, out.NextStatus, EscrowUpdate{
				Status:          out.NextStatus,
				ClearBountyData: true,
			}); err != nil {
				e.log.Error("staging slot not cleared after materialization",
					zap.String("escrow_payment_id", esc.ID.String()),
					zap.Error(err),
				)
			}
		}

	case out.Patch != nil:
		if bounty == nil {
			e.log.Warn("bounty patch dropped, no bounty to apply it to",
				zap.String("escrow_payment_id", esc.ID.String()),
			)
			return
		}
		if err := e.bounties.ApplyPatch(ctx, bounty.ID, *out.Patch); err != nil {
			e.log.Error("bounty patch failed after escrow write, projection diverged",
				zap.String("escrow_payment_id", esc.ID.String()),
				zap.String("bounty_id", bounty.ID.String()),
				zap.Error(err),
			)
			_ = e.audit.Log(ctx, models.AuditLog{
				ActorType:  models.ActorWebhook,
				Action:     "bounty_projection_diverged",
				EntityType: "bounty",
				EntityID:   &bounty.ID,
				Meta:       map[string]any{"escrow_payment_id": esc.ID.String()},
			})
		}
	}
}

func bountyFromStaged(id uuid.UUID, esc *models.EscrowPayment) *models.Bounty {
	stagedData := esc.BountyData
	pay := models.BountyPaymentHeldInEscrow
	escID := esc.ID

	b := &models.Bounty{
		ID:              id,
		BusinessID:      esc.BusinessID,
		Status:          models.BountyStatusActive,
		PaymentStatus:   &pay,
		EscrowPaymentID: &escID,
		Title:           stagedData.Title,
		Description:     stagedData.Description,
		RewardCents:     stagedData.RewardCents,
		Currency:        stagedData.Currency,
		Deadline:        stagedData.Deadline,
	}
	if b.RewardCents == 0 {
		b.RewardCents = esc.AmountCents
	}
	if b.Currency == "" {
		b.Currency = esc.Currency
	}
	return b
}

// notifyAsync dispatches the notification sink without awaiting completion.
// The delivering request never blocks on it and never observes its failure.
func (e *Engine) notifyAsync(esc *models.EscrowPayment, oldStatus, newStatus string) {
	escrowPaymentID := esc.ID
	businessID := esc.BusinessID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := e.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventEscrowStatusChanged,
			Payload: map[string]any{
				"escrow_payment_id": escrowPaymentID.String(),
				"business_id":       businessID.String(),
				"old_status":        oldStatus,
				"new_status":        newStatus,
			},
		}); err != nil {
			e.log.Warn("escrow status event publish failed", zap.Error(err))
		}

		if e.notifier != nil {
			if err := e.notifier.EscrowStatusChanged(ctx, escrowPaymentID, oldStatus, newStatus); err != nil {
				e.log.Warn("crm notification failed", zap.Error(err))
			}
		}
	}()
}
