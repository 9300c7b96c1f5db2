package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type FundBountyResponse struct {
	EscrowPaymentID string `json:"escrow_payment_id"`
	ClientSecret    string `json:"client_secret"`
	Status          string `json:"status"`
}

type UpfrontBountyResponse struct {
	EscrowPaymentID string `json:"escrow_payment_id"`
	CheckoutURL     string `json:"checkout_url"`
	Status          string `json:"status"`
}

type PaymentInfoResponse struct {
	EscrowPaymentID string  `json:"escrow_payment_id"`
	Status          string  `json:"status"`
	AmountCents     int64   `json:"amount_cents"`
	Currency        string  `json:"currency"`
	FailureReason   *string `json:"failure_reason,omitempty"`
}
