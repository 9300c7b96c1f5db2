package services

import (
	"context"
	"fmt"
	"time"

	"github.com/bounty-marketplace/backend/internal/config"
	"github.com/bounty-marketplace/backend/internal/events"
	"github.com/bounty-marketplace/backend/internal/models"
	"github.com/bounty-marketplace/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BountyService struct {
	bountyRepo      *repositories.BountyRepo
	escrowRepo      *repositories.EscrowPaymentRepo
	applicationRepo *repositories.ApplicationRepo
	auditRepo       *repositories.AuditRepo
	stripeClient    *StripeClient
	notifier        *NotifierClient
	publisher       events.Publisher
	cfg             *config.Config
	log             *zap.Logger
}

func NewBountyService(
	bountyRepo *repositories.BountyRepo,
	escrowRepo *repositories.EscrowPaymentRepo,
	applicationRepo *repositories.ApplicationRepo,
	auditRepo *repositories.AuditRepo,
	stripeClient *StripeClient,
	notifier *NotifierClient,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *BountyService {
	return &BountyService{
		bountyRepo:      bountyRepo,
		escrowRepo:      escrowRepo,
		applicationRepo: applicationRepo,
		auditRepo:       auditRepo,
		stripeClient:    stripeClient,
		notifier:        notifier,
		publisher:       publisher,
		cfg:             cfg,
		log:             log,
	}
}

// transition validates and performs a bounty status transition with audit
// logging and event publication.
func (s *BountyService) transition(ctx context.Context, bounty *models.Bounty, newStatus string, actorID *uuid.UUID, actorType string) error {
	if !models.IsValidBountyTransition(bounty.Status, newStatus) {
		return fmt.Errorf("invalid transition from %s to %s", bounty.Status, newStatus)
	}

	oldStatus := bounty.Status
	if err := s.bountyRepo.UpdateStatus(ctx, bounty.ID, newStatus); err != nil {
		return err
	}
	bounty.Status = newStatus

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      fmt.Sprintf("bounty_status_%s_to_%s", oldStatus, newStatus),
		EntityType:  "bounty",
		EntityID:    &bounty.ID,
		Meta:        map[string]any{"old_status": oldStatus, "new_status": newStatus},
	})

	_ = s.publisher.Publish(ctx, events.StreamBounty, events.Event{
		Type: events.EventBountyStatusChanged,
		Payload: map[string]any{
			"bounty_id":   bounty.ID.String(),
			"business_id": bounty.BusinessID.String(),
			"old_status":  oldStatus,
			"new_status":  newStatus,
		},
	})

	go func() {
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.BountyStatusChanged(nctx, bounty.ID, oldStatus, newStatus); err != nil {
			s.log.Warn("bounty status notification failed", zap.Error(err))
		}
	}()

	return nil
}

type CreateBountyInput struct {
	Title       string
	Description *string
	RewardCents int64
	Currency    string
	Deadline    *time.Time
}

func (in *CreateBountyInput) validate(defaultCurrency string) error {
	if in.Title == "" {
		return fmt.Errorf("title is required")
	}
	if in.RewardCents <= 0 {
		return fmt.Errorf("reward must be positive")
	}
	if in.Currency == "" {
		in.Currency = defaultCurrency
	}
	return nil
}

// CreateBounty creates a draft bounty in the direct flow: the bounty exists
// first, payment is initiated against it separately.
func (s *BountyService) CreateBounty(ctx context.Context, businessID uuid.UUID, in CreateBountyInput) (*models.Bounty, error) {
	if err := in.validate(s.cfg.DefaultCurrency); err != nil {
		return nil, err
	}

	bounty := &models.Bounty{
		BusinessID:  businessID,
		Status:      models.BountyStatusPending,
		Title:       in.Title,
		Description: in.Description,
		RewardCents: in.RewardCents,
		Currency:    in.Currency,
		Deadline:    in.Deadline,
	}
	if err := s.bountyRepo.Create(ctx, bounty); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &businessID,
		ActorType:   models.ActorUser,
		Action:      "bounty_created",
		EntityType:  "bounty",
		EntityID:    &bounty.ID,
		Meta:        map[string]any{"reward_cents": in.RewardCents, "currency": in.Currency},
	})

	return bounty, nil
}

// FundBountyResult carries what the frontend needs to complete payment.
type FundBountyResult struct {
	EscrowPayment *models.EscrowPayment
	ClientSecret  string
}

// FundBounty creates the escrow payment record and opens a processor payment
// intent against an existing bounty. The bounty activates only when the
// success webhook lands.
func (s *BountyService) FundBounty(ctx context.Context, bountyID, businessID uuid.UUID) (*FundBountyResult, error) {
	bounty, err := s.bountyRepo.GetByID(ctx, bountyID)
	if err != nil {
		return nil, fmt.Errorf("bounty not found: %w", err)
	}
	if bounty.BusinessID != businessID {
		return nil, fmt.Errorf("only the owning business can fund a bounty")
	}
	if bounty.Status != models.BountyStatusPending {
		return nil, fmt.Errorf("bounty is not awaiting funding: %s", bounty.Status)
	}

	esc := &models.EscrowPayment{
		Status:      models.EscrowStatusPending,
		BountyID:    &bounty.ID,
		BusinessID:  businessID,
		AmountCents: bounty.RewardCents,
		Currency:    bounty.Currency,
	}
	if err := s.escrowRepo.Create(ctx, esc); err != nil {
		return nil, err
	}

	pi, err := s.stripeClient.CreateEscrowPaymentIntent(esc.AmountCents, esc.Currency, esc.ID, bounty.ID)
	if err != nil {
		return nil, fmt.Errorf("payment intent creation failed: %w", err)
	}
	if err := s.escrowRepo.SetPaymentIntentID(ctx, esc.ID, pi.ID); err != nil {
		s.log.Error("failed to store payment intent id",
			zap.String("escrow_payment_id", esc.ID.String()),
			zap.Error(err),
		)
	}
	esc.ProcessorPaymentIntentID = &pi.ID

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &businessID,
		ActorType:   models.ActorUser,
		Action:      "escrow_payment_initiated",
		EntityType:  "escrow_payment",
		EntityID:    &esc.ID,
		Meta:        map[string]any{"bounty_id": bounty.ID.String(), "payment_intent_id": pi.ID},
	})

	return &FundBountyResult{EscrowPayment: esc, ClientSecret: pi.ClientSecret}, nil
}

// UpfrontBountyResult carries the checkout redirect for the upfront flow.
type UpfrontBountyResult struct {
	EscrowPayment *models.EscrowPayment
	CheckoutURL   string
}

// CreateUpfrontBounty stages a bounty definition on a fresh escrow payment
// and opens a checkout session. The bounty itself is materialized by the
// reconciliation engine once the payment succeeds.
func (s *BountyService) CreateUpfrontBounty(ctx context.Context, businessID uuid.UUID, in CreateBountyInput) (*UpfrontBountyResult, error) {
	if err := in.validate(s.cfg.DefaultCurrency); err != nil {
		return nil, err
	}

	esc := &models.EscrowPayment{
		Status:     models.EscrowStatusPending,
		BusinessID: businessID,
		BountyData: &models.StagedBounty{
			Title:       in.Title,
			Description: in.Description,
			RewardCents: in.RewardCents,
			Currency:    in.Currency,
			Deadline:    in.Deadline,
		},
		AmountCents: in.RewardCents,
		Currency:    in.Currency,
	}
	if err := s.escrowRepo.Create(ctx, esc); err != nil {
		return nil, err
	}

	sess, err := s.stripeClient.CreateUpfrontCheckoutSession(
		esc.AmountCents, esc.Currency, in.Title, esc.ID,
		s.cfg.CheckoutSuccessURL, s.cfg.CheckoutCancelURL,
	)
	if err != nil {
		return nil, fmt.Errorf("checkout session creation failed: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &businessID,
		ActorType:   models.ActorUser,
		Action:      "upfront_escrow_payment_initiated",
		EntityType:  "escrow_payment",
		EntityID:    &esc.ID,
		Meta:        map[string]any{"checkout_session_id": sess.ID},
	})

	return &UpfrontBountyResult{EscrowPayment: esc, CheckoutURL: sess.URL}, nil
}

// RequestPayout kicks off the transfer of held funds to a creator's
// connected account. Status only changes when settlement webhooks land.
func (s *BountyService) RequestPayout(ctx context.Context, bountyID, businessID uuid.UUID, destinationAccountID string) error {
	bounty, err := s.bountyRepo.GetByID(ctx, bountyID)
	if err != nil {
		return fmt.Errorf("bounty not found: %w", err)
	}
	if bounty.BusinessID != businessID {
		return fmt.Errorf("only the owning business can request payout")
	}
	if bounty.Status != models.BountyStatusInProgress {
		return fmt.Errorf("bounty has no creator working on it: %s", bounty.Status)
	}
	if destinationAccountID == "" {
		return fmt.Errorf("destination account is required")
	}

	esc, err := s.escrowRepo.GetByBountyID(ctx, bountyID)
	if err != nil {
		return fmt.Errorf("no escrow payment for bounty: %w", err)
	}
	if esc.Status != models.EscrowStatusHeldInEscrow {
		return fmt.Errorf("funds are not held in escrow: %s", esc.Status)
	}

	// Platform fee is withheld from the transfer, not from the charge.
	payout := esc.AmountCents - esc.AmountCents*int64(s.cfg.PlatformFeeBPS)/10000

	tr, err := s.stripeClient.CreatePayoutTransfer(payout, esc.Currency, destinationAccountID, esc.ID, bounty.ID)
	if err != nil {
		return fmt.Errorf("transfer creation failed: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &businessID,
		ActorType:   models.ActorUser,
		Action:      "escrow_payout_requested",
		EntityType:  "escrow_payment",
		EntityID:    &esc.ID,
		Meta:        map[string]any{"transfer_id": tr.ID, "amount_cents": payout},
	})

	return nil
}

// RequestRefund asks the processor to refund the held charge. The records
// transition when charge.refunded is delivered.
func (s *BountyService) RequestRefund(ctx context.Context, bountyID, businessID uuid.UUID) error {
	bounty, err := s.bountyRepo.GetByID(ctx, bountyID)
	if err != nil {
		return fmt.Errorf("bounty not found: %w", err)
	}
	if bounty.BusinessID != businessID {
		return fmt.Errorf("only the owning business can request a refund")
	}

	esc, err := s.escrowRepo.GetByBountyID(ctx, bountyID)
	if err != nil {
		return fmt.Errorf("no escrow payment for bounty: %w", err)
	}
	if esc.Status != models.EscrowStatusHeldInEscrow {
		return fmt.Errorf("funds are not held in escrow: %s", esc.Status)
	}
	if esc.ProcessorPaymentIntentID == nil {
		return fmt.Errorf("escrow payment has no processor correlation id")
	}

	rf, err := s.stripeClient.CreateRefund(*esc.ProcessorPaymentIntentID, esc.ID, bounty.ID)
	if err != nil {
		return fmt.Errorf("refund creation failed: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &businessID,
		ActorType:   models.ActorUser,
		Action:      "escrow_refund_requested",
		EntityType:  "escrow_payment",
		EntityID:    &esc.ID,
		Meta:        map[string]any{"refund_id": rf.ID},
	})

	return nil
}

// Apply records a creator's application to an active bounty.
func (s *BountyService) Apply(ctx context.Context, bountyID, creatorID uuid.UUID, pitch *string) (*models.BountyApplication, error) {
	bounty, err := s.bountyRepo.GetByID(ctx, bountyID)
	if err != nil {
		return nil, fmt.Errorf("bounty not found: %w", err)
	}
	if bounty.Status != models.BountyStatusActive {
		return nil, fmt.Errorf("bounty is not accepting applications: %s", bounty.Status)
	}
	if existing, err := s.applicationRepo.GetByBountyAndCreator(ctx, bountyID, creatorID); err == nil && existing != nil {
		return nil, fmt.Errorf("already applied to this bounty")
	}

	app := &models.BountyApplication{
		BountyID:  bountyID,
		CreatorID: creatorID,
		Status:    models.ApplicationStatusPending,
		Pitch:     pitch,
	}
	if err := s.applicationRepo.Create(ctx, app); err != nil {
		return nil, err
	}
	if err := s.bountyRepo.IncrementApplicationsCount(ctx, bountyID); err != nil {
		s.log.Warn("failed to bump applications count", zap.String("bounty_id", bountyID.String()), zap.Error(err))
	}

	return app, nil
}

// AcceptApplication picks a creator and moves the bounty into progress.
func (s *BountyService) AcceptApplication(ctx context.Context, applicationID, businessID uuid.UUID) error {
	app, err := s.applicationRepo.GetByID(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("application not found: %w", err)
	}

	bounty, err := s.bountyRepo.GetByID(ctx, app.BountyID)
	if err != nil {
		return fmt.Errorf("bounty not found: %w", err)
	}
	if bounty.BusinessID != businessID {
		return fmt.Errorf("only the owning business can accept applications")
	}
	if app.Status != models.ApplicationStatusPending {
		return fmt.Errorf("application is not pending: %s", app.Status)
	}

	if err := s.applicationRepo.UpdateStatus(ctx, app.ID, models.ApplicationStatusAccepted); err != nil {
		return err
	}

	return s.transition(ctx, bounty, models.BountyStatusInProgress, &businessID, models.ActorUser)
}

// RejectApplication declines a pending application without touching the bounty.
func (s *BountyService) RejectApplication(ctx context.Context, applicationID, businessID uuid.UUID) error {
	app, err := s.applicationRepo.GetByID(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("application not found: %w", err)
	}

	bounty, err := s.bountyRepo.GetByID(ctx, app.BountyID)
	if err != nil {
		return fmt.Errorf("bounty not found: %w", err)
	}
	if bounty.BusinessID != businessID {
		return fmt.Errorf("only the owning business can reject applications")
	}
	if app.Status != models.ApplicationStatusPending {
		return fmt.Errorf("application is not pending: %s", app.Status)
	}

	return s.applicationRepo.UpdateStatus(ctx, app.ID, models.ApplicationStatusRejected)
}

// WithdrawApplication lets a creator pull a pending application back.
func (s *BountyService) WithdrawApplication(ctx context.Context, applicationID, creatorID uuid.UUID) error {
	app, err := s.applicationRepo.GetByID(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("application not found: %w", err)
	}
	if app.CreatorID != creatorID {
		return fmt.Errorf("only the applicant can withdraw")
	}
	if app.Status != models.ApplicationStatusPending {
		return fmt.Errorf("application is not pending: %s", app.Status)
	}

	return s.applicationRepo.UpdateStatus(ctx, app.ID, models.ApplicationStatusWithdrawn)
}

func (s *BountyService) GetBounty(ctx context.Context, id uuid.UUID) (*models.Bounty, error) {
	return s.bountyRepo.GetByID(ctx, id)
}

func (s *BountyService) ListBounties(ctx context.Context, f repositories.BountyFilter) ([]models.Bounty, error) {
	return s.bountyRepo.List(ctx, f)
}

func (s *BountyService) ListApplications(ctx context.Context, bountyID uuid.UUID, limit, offset int) ([]models.BountyApplication, error) {
	return s.applicationRepo.ListByBounty(ctx, bountyID, limit, offset)
}

func (s *BountyService) GetBountyEvents(ctx context.Context, bountyID uuid.UUID) ([]models.AuditLog, error) {
	return s.auditRepo.GetByEntity(ctx, "bounty", bountyID, 100, 0)
}

func (s *BountyService) GetPaymentInfo(ctx context.Context, bountyID uuid.UUID) (*models.EscrowPayment, error) {
	return s.escrowRepo.GetByBountyID(ctx, bountyID)
}
