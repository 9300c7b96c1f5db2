package handlers

import (
	"github.com/bounty-marketplace/backend/internal/http/dto"
	"github.com/bounty-marketplace/backend/internal/middleware"
	"github.com/bounty-marketplace/backend/internal/repositories"
	"github.com/bounty-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BountyHandler struct {
	svc *services.BountyService
	log *zap.Logger
}

func NewBountyHandler(svc *services.BountyService, log *zap.Logger) *BountyHandler {
	return &BountyHandler{svc: svc, log: log}
}

func (h *BountyHandler) CreateBounty(c *fiber.Ctx) error {
	var req dto.CreateBountyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	bounty, err := h.svc.CreateBounty(c.Context(), middleware.GetUserID(c), services.CreateBountyInput{
		Title:       req.Title,
		Description: req.Description,
		RewardCents: req.RewardCents,
		Currency:    req.Currency,
		Deadline:    req.Deadline,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: bounty})
}

func (h *BountyHandler) CreateUpfrontBounty(c *fiber.Ctx) error {
	var req dto.CreateBountyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	result, err := h.svc.CreateUpfrontBounty(c.Context(), middleware.GetUserID(c), services.CreateBountyInput{
		Title:       req.Title,
		Description: req.Description,
		RewardCents: req.RewardCents,
		Currency:    req.Currency,
		Deadline:    req.Deadline,
	})
	if err != nil {
		h.log.Error("upfront bounty creation failed", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.UpfrontBountyResponse{
		EscrowPaymentID: result.EscrowPayment.ID.String(),
		CheckoutURL:     result.CheckoutURL,
		Status:          result.EscrowPayment.Status,
	})
}

func (h *BountyHandler) FundBounty(c *fiber.Ctx) error {
	bountyID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid bounty id"})
	}

	result, err := h.svc.FundBounty(c.Context(), bountyID, middleware.GetUserID(c))
	if err != nil {
		h.log.Error("bounty funding failed", zap.String("bounty_id", bountyID.String()), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.FundBountyResponse{
		EscrowPaymentID: result.EscrowPayment.ID.String(),
		ClientSecret:    result.ClientSecret,
		Status:          result.EscrowPayment.Status,
	})
}

func (h *BountyHandler) RequestPayout(c *fiber.Ctx) error {
	bountyID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid bounty id"})
	}

	var req dto.PayoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	if err := h.svc.RequestPayout(c.Context(), bountyID, middleware.GetUserID(c), req.DestinationAccountID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *BountyHandler) RequestRefund(c *fiber.Ctx) error {
	bountyID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid bounty id"})
	}

	if err := h.svc.RequestRefund(c.Context(), bountyID, middleware.GetUserID(c)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *BountyHandler) GetBounty(c *fiber.Ctx) error {
	bountyID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid bounty id"})
	}

	bounty, err := h.svc.GetBounty(c.Context(), bountyID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "bounty not found"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: bounty})
}

func (h *BountyHandler) ListBounties(c *fiber.Ctx) error {
	f := repositories.BountyFilter{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	if status := c.Query("status"); status != "" {
		f.Status = &status
	}
	if businessID, err := uuid.Parse(c.Query("business_id")); err == nil {
		f.BusinessID = &businessID
	}

	bounties, err := h.svc.ListBounties(c.Context(), f)
	if err != nil {
		h.log.Error("failed to list bounties", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: bounties})
}

func (h *BountyHandler) GetBountyEvents(c *fiber.Ctx) error {
	bountyID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid bounty id"})
	}

	entries, err := h.svc.GetBountyEvents(c.Context(), bountyID)
	if err != nil {
		h.log.Error("failed to load bounty events", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *BountyHandler) GetPaymentInfo(c *fiber.Ctx) error {
	bountyID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid bounty id"})
	}

	esc, err := h.svc.GetPaymentInfo(c.Context(), bountyID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "no payment for bounty"})
	}

	return c.JSON(dto.PaymentInfoResponse{
		EscrowPaymentID: esc.ID.String(),
		Status:          esc.Status,
		AmountCents:     esc.AmountCents,
		Currency:        esc.Currency,
		FailureReason:   esc.FailureReason,
	})
}
