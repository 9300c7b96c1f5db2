package repositories

import (
	"context"
	"fmt"

	"github.com/bounty-marketplace/backend/internal/escrow"
	"github.com/bounty-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BountyRepo struct {
	pool *pgxpool.Pool
}

func NewBountyRepo(pool *pgxpool.Pool) *BountyRepo {
	return &BountyRepo{pool: pool}
}

const bountyColumns = `
	id, business_id, status, payment_status, escrow_payment_id,
	title, description, reward_cents, currency, deadline,
	applications_count, created_at, updated_at`

// Create inserts the bounty. The id may be preset (the engine chooses it
// up front when materializing from staged data); otherwise one is assigned.
func (r *BountyRepo) Create(ctx context.Context, b *models.Bounty) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO bounties (id, business_id, status, payment_status, escrow_payment_id,
		                      title, description, reward_cents, currency, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, b.ID, b.BusinessID, b.Status, b.PaymentStatus, b.EscrowPaymentID,
		b.Title, b.Description, b.RewardCents, b.Currency, b.Deadline).
		Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *BountyRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Bounty, error) {
	return scanBounty(r.pool.QueryRow(ctx, `
		SELECT `+bountyColumns+`
		FROM bounties WHERE id = $1
	`, id))
}

type BountyFilter struct {
	BusinessID *uuid.UUID
	Status     *string
	Limit      int
	Offset     int
}

func (r *BountyRepo) List(ctx context.Context, f BountyFilter) ([]models.Bounty, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}

	query := `SELECT ` + bountyColumns + ` FROM bounties WHERE 1=1`
	args := []any{}
	i := 1
	if f.BusinessID != nil {
		query += fmt.Sprintf(" AND business_id = $%d", i)
		args = append(args, *f.BusinessID)
		i++
	}
	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", i)
		args = append(args, *f.Status)
		i++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", i, i+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Bounty
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *BountyRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bounties SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	return err
}

// ApplyPatch writes the bounty-side projection of an escrow transition.
// Nil fields leave the column untouched.
func (r *BountyRepo) ApplyPatch(ctx context.Context, id uuid.UUID, patch escrow.BountyPatch) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bounties SET
			status = COALESCE($2, status),
			payment_status = COALESCE($3, payment_status),
			escrow_payment_id = COALESCE($4, escrow_payment_id),
			updated_at = now()
		WHERE id = $1
	`, id, patch.Status, patch.PaymentStatus, patch.EscrowPaymentID)
	return err
}

func (r *BountyRepo) IncrementApplicationsCount(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bounties SET applications_count = applications_count + 1, updated_at = now() WHERE id = $1
	`, id)
	return err
}

func scanBounty(row pgx.Row) (*models.Bounty, error) {
	var b models.Bounty
	err := row.Scan(&b.ID, &b.BusinessID, &b.Status, &b.PaymentStatus, &b.EscrowPaymentID,
		&b.Title, &b.Description, &b.RewardCents, &b.Currency, &b.Deadline,
		&b.ApplicationsCount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
