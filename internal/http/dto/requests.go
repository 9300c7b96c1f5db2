package dto

import "time"

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"` // business / creator
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateBountyRequest struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	RewardCents int64      `json:"reward_cents"`
	Currency    string     `json:"currency,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

type PayoutRequest struct {
	DestinationAccountID string `json:"destination_account_id"`
}

type ApplyRequest struct {
	Pitch *string `json:"pitch,omitempty"`
}
