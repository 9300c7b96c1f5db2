package repositories

import (
	"context"

	"github.com/bounty-marketplace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ApplicationRepo struct {
	pool *pgxpool.Pool
}

func NewApplicationRepo(pool *pgxpool.Pool) *ApplicationRepo {
	return &ApplicationRepo{pool: pool}
}

func (r *ApplicationRepo) Create(ctx context.Context, a *models.BountyApplication) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO bounty_applications (bounty_id, creator_id, status, pitch)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, a.BountyID, a.CreatorID, a.Status, a.Pitch).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (r *ApplicationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.BountyApplication, error) {
	var a models.BountyApplication
	err := r.pool.QueryRow(ctx, `
		SELECT id, bounty_id, creator_id, status, pitch, created_at, updated_at
		FROM bounty_applications WHERE id = $1
	`, id).Scan(&a.ID, &a.BountyID, &a.CreatorID, &a.Status, &a.Pitch, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *ApplicationRepo) GetByBountyAndCreator(ctx context.Context, bountyID, creatorID uuid.UUID) (*models.BountyApplication, error) {
	var a models.BountyApplication
	err := r.pool.QueryRow(ctx, `
		SELECT id, bounty_id, creator_id, status, pitch, created_at, updated_at
		FROM bounty_applications WHERE bounty_id = $1 AND creator_id = $2
	`, bountyID, creatorID).Scan(&a.ID, &a.BountyID, &a.CreatorID, &a.Status, &a.Pitch, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *ApplicationRepo) ListByBounty(ctx context.Context, bountyID uuid.UUID, limit, offset int) ([]models.BountyApplication, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, bounty_id, creator_id, status, pitch, created_at, updated_at
		FROM bounty_applications WHERE bounty_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, bountyID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BountyApplication
	for rows.Next() {
		var a models.BountyApplication
		if err := rows.Scan(&a.ID, &a.BountyID, &a.CreatorID, &a.Status, &a.Pitch, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *ApplicationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bounty_applications SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	return err
}
