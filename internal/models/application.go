package models

import (
	"time"

	"github.com/google/uuid"
)

// Application statuses
const (
	ApplicationStatusPending   = "pending"
	ApplicationStatusAccepted  = "accepted"
	ApplicationStatusRejected  = "rejected"
	ApplicationStatusWithdrawn = "withdrawn"
)

type BountyApplication struct {
	ID        uuid.UUID `json:"id"`
	BountyID  uuid.UUID `json:"bounty_id"`
	CreatorID uuid.UUID `json:"creator_id"`
	Status    string    `json:"status"`
	Pitch     *string   `json:"pitch,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
