package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actor types. Webhook entries come from processor event handling,
// system entries from the background worker.
const (
	ActorUser    = "user"
	ActorSystem  = "system"
	ActorWebhook = "webhook"
)

// AuditLog is the append-only trail behind every escrow, bounty and
// application status change. Escrow records carry no explicit status history;
// this table is it.
type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"`
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
