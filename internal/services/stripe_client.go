package services

import (
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/transfer"
	"go.uber.org/zap"
)

// StripeClient wraps the processor SDK calls the marketplace issues. Every
// created object carries the escrow metadata contract (flow type tag plus
// correlation ids) so the webhook pipeline can claim it later.
type StripeClient struct {
	log *zap.Logger
}

func NewStripeClient(apiKey string, log *zap.Logger) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{log: log}
}

// CreateEscrowPaymentIntent opens a payment intent funding an existing bounty.
func (c *StripeClient) CreateEscrowPaymentIntent(amountCents int64, currency string, escrowPaymentID, bountyID uuid.UUID) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	params.AddMetadata("type", "escrow_payment")
	params.AddMetadata("escrow_payment_id", escrowPaymentID.String())
	params.AddMetadata("bounty_id", bountyID.String())

	return paymentintent.New(params)
}

// CreateUpfrontCheckoutSession opens a checkout session for the upfront
// flow: the bounty does not exist yet, only the staged definition on the
// escrow payment record.
func (c *StripeClient) CreateUpfrontCheckoutSession(amountCents int64, currency, title string, escrowPaymentID uuid.UUID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(amountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(title),
					},
				},
			},
		},
	}
	params.AddMetadata("type", "upfront_escrow_payment")
	params.AddMetadata("escrow_payment_id", escrowPaymentID.String())

	// The payment intent behind the session must carry the same metadata,
	// since payment_intent.* webhooks are keyed off it.
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{
			"type":              "upfront_escrow_payment",
			"escrow_payment_id": escrowPaymentID.String(),
		},
	}

	return session.New(params)
}

// CreatePayoutTransfer moves held funds to the creator's connected account.
// Settlement arrives later through transfer.* webhooks.
func (c *StripeClient) CreatePayoutTransfer(amountCents int64, currency, destinationAccountID string, escrowPaymentID, bountyID uuid.UUID) (*stripe.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(currency),
		Destination: stripe.String(destinationAccountID),
	}
	params.AddMetadata("type", "escrow_payout")
	params.AddMetadata("escrow_payment_id", escrowPaymentID.String())
	params.AddMetadata("bounty_id", bountyID.String())

	return transfer.New(params)
}

// CreateRefund refunds the original charge; the state change lands via the
// charge.refunded webhook, not here.
func (c *StripeClient) CreateRefund(paymentIntentID string, escrowPaymentID, bountyID uuid.UUID) (*stripe.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.AddMetadata("type", "escrow_refund")
	params.AddMetadata("escrow_payment_id", escrowPaymentID.String())
	params.AddMetadata("bounty_id", bountyID.String())

	return refund.New(params)
}
