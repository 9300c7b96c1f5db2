package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bounty-marketplace/backend/internal/escrow"
	"github.com/bounty-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EscrowPaymentRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowPaymentRepo(pool *pgxpool.Pool) *EscrowPaymentRepo {
	return &EscrowPaymentRepo{pool: pool}
}

const escrowPaymentColumns = `
	id, status, bounty_id, processor_payment_intent_id, processor_transfer_id,
	bounty_data, business_id, amount_cents, currency, failure_reason,
	created_at, updated_at`

func (r *EscrowPaymentRepo) Create(ctx context.Context, e *models.EscrowPayment) error {
	var stagedJSON []byte
	if e.BountyData != nil {
		var err error
		stagedJSON, err = json.Marshal(e.BountyData)
		if err != nil {
			return err
		}
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrow_payments (status, bounty_id, bounty_data, business_id, amount_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, e.Status, e.BountyID, stagedJSON, e.BusinessID, e.AmountCents, e.Currency).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowPaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT `+escrowPaymentColumns+`
		FROM escrow_payments WHERE id = $1
	`, id))
}

func (r *EscrowPaymentRepo) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.EscrowPayment, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT `+escrowPaymentColumns+`
		FROM escrow_payments WHERE processor_payment_intent_id = $1
	`, paymentIntentID))
}

func (r *EscrowPaymentRepo) GetByBountyID(ctx context.Context, bountyID uuid.UUID) (*models.EscrowPayment, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT `+escrowPaymentColumns+`
		FROM escrow_payments WHERE bounty_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, bountyID))
}

// SetPaymentIntentID attaches the processor correlation id right after the
// payment intent is created, before any webhook arrives.
func (r *EscrowPaymentRepo) SetPaymentIntentID(ctx context.Context, id uuid.UUID, paymentIntentID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrow_payments
		SET processor_payment_intent_id = COALESCE(processor_payment_intent_id, $1), updated_at = now()
		WHERE id = $2
	`, paymentIntentID, id)
	return err
}

// ApplyTransition is the conditional write the reconciliation engine builds
// on: the row is updated only if it still carries expectedStatus. A false
// return means another delivery advanced the record first.
func (r *EscrowPaymentRepo) ApplyTransition(ctx context.Context, id uuid.UUID, expectedStatus string, u escrow.EscrowUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrow_payments SET
			status = $2,
			processor_payment_intent_id = COALESCE($3, processor_payment_intent_id),
			processor_transfer_id = COALESCE($4, processor_transfer_id),
			failure_reason = COALESCE($5, failure_reason),
			bounty_id = COALESCE($6, bounty_id),
			bounty_data = CASE WHEN $7 THEN NULL ELSE bounty_data END,
			updated_at = now()
		WHERE id = $1 AND status = $8
	`, id, u.Status, u.PaymentIntentID, u.TransferID, u.FailureReason, u.BountyID, u.ClearBountyData, expectedStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DivergedProjection pairs an escrow payment with a bounty whose
// payment_status projection no longer matches it.
type DivergedProjection struct {
	EscrowPaymentID     uuid.UUID
	EscrowStatus        string
	BountyID            uuid.UUID
	BountyStatus        string
	BountyPaymentStatus *string
}

// ListDivergedProjections finds bounties whose payment_status drifted from
// the linked escrow record. Only statuses the bounty mirrors are considered.
func (r *EscrowPaymentRepo) ListDivergedProjections(ctx context.Context, limit int) ([]DivergedProjection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.status, b.id, b.status, b.payment_status
		FROM escrow_payments e
		JOIN bounties b ON b.id = e.bounty_id
		WHERE e.status IN ('held_in_escrow', 'released', 'refunded', 'failed')
		  AND b.payment_status IS DISTINCT FROM e.status
		ORDER BY e.updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DivergedProjection
	for rows.Next() {
		var d DivergedProjection
		if err := rows.Scan(&d.EscrowPaymentID, &d.EscrowStatus, &d.BountyID, &d.BountyStatus, &d.BountyPaymentStatus); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListStalePending returns payments stuck in pending longer than maxAge.
func (r *EscrowPaymentRepo) ListStalePending(ctx context.Context, maxAge time.Duration, limit int) ([]models.EscrowPayment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowPaymentColumns+`
		FROM escrow_payments
		WHERE status = 'pending' AND created_at < now() - make_interval(secs => $1)
		ORDER BY created_at
		LIMIT $2
	`, maxAge.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EscrowPayment
	for rows.Next() {
		e, err := scanEscrowPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *EscrowPaymentRepo) scanOne(row pgx.Row) (*models.EscrowPayment, error) {
	return scanEscrowPayment(row)
}

func scanEscrowPayment(row pgx.Row) (*models.EscrowPayment, error) {
	var e models.EscrowPayment
	var stagedJSON []byte
	err := row.Scan(&e.ID, &e.Status, &e.BountyID, &e.ProcessorPaymentIntentID, &e.ProcessorTransferID,
		&stagedJSON, &e.BusinessID, &e.AmountCents, &e.Currency, &e.FailureReason,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(stagedJSON) > 0 {
		var staged models.StagedBounty
		if err := json.Unmarshal(stagedJSON, &staged); err != nil {
			return nil, err
		}
		e.BountyData = &staged
	}
	return &e, nil
}
