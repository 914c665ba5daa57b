package withdrawal

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/auth"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
	"github.com/lexconsult/lexconsult_wallet/internal/validation"
)

// Handler exposes withdrawal endpoints.
type Handler struct {
	service  *Service
	validate *validation.Validator
}

// NewHandler constructs a withdrawal handler.
func NewHandler(service *Service, validate *validation.Validator) *Handler {
	return &Handler{service: service, validate: validate}
}

type bankDetailsRequest struct {
	AccountNumber     string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	IFSCCode          string `json:"ifsc_code" validate:"required,len=11,alphanum"`
	AccountHolderName string `json:"account_holder_name" validate:"required,max=120"`
	BankName          string `json:"bank_name" validate:"max=120"`
}

func (b bankDetailsRequest) details() ledger.BankDetails {
	return ledger.BankDetails{
		AccountNumber:     b.AccountNumber,
		IFSCCode:          b.IFSCCode,
		AccountHolderName: b.AccountHolderName,
		BankName:          b.BankName,
	}
}

type requestBody struct {
	Amount      int64              `json:"amount" validate:"gt=0"`
	BankDetails bankDetailsRequest `json:"bank_details" validate:"required"`
}

// Request files a withdrawal for the calling lawyer.
func (h *Handler) Request(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	var req requestBody
	if err := h.validate.Bind(c, &req); err != nil {
		return err
	}

	w, err := h.service.Request(c.UserContext(), caller, req.Amount, req.BankDetails.details())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"withdrawal_id": w.ID,
		"status":        w.Status,
		"amount":        w.Amount,
		"requested_at":  w.RequestedAt,
	})
}

type processBody struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
	Notes  string `json:"notes" validate:"max=500"`
}

// Process approves or rejects a pending withdrawal.
func (h *Handler) Process(c *fiber.Ctx) error {
	admin, err := auth.Require(c)
	if err != nil {
		return err
	}
	var req processBody
	if err := h.validate.Bind(c, &req); err != nil {
		return err
	}

	var w ledger.WithdrawalRequest
	switch req.Status {
	case ledger.WithdrawalApproved:
		w, err = h.service.Approve(c.UserContext(), admin, c.Params("id"), req.Notes)
	case ledger.WithdrawalRejected:
		w, err = h.service.Reject(c.UserContext(), admin, c.Params("id"), req.Notes)
	}
	if err != nil {
		return err
	}
	return c.JSON(w)
}

// RetryPayout re-sends an unconfirmed payout.
func (h *Handler) RetryPayout(c *fiber.Ctx) error {
	admin, err := auth.Require(c)
	if err != nil {
		return err
	}
	w, err := h.service.RetryPayout(c.UserContext(), admin, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(w)
}

// RefreshPayout reports the provider's current view of a payout.
func (h *Handler) RefreshPayout(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	w, err := h.service.RefreshPayout(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"withdrawal_id":    w.ID,
		"payout_status":    w.PayoutStatus,
		"payout_reference": w.PayoutReference,
	})
}

type validateBody struct {
	BankDetails bankDetailsRequest `json:"bank_details" validate:"required"`
}

// ValidateAccount checks a destination account with the payout provider.
func (h *Handler) ValidateAccount(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	var req validateBody
	if err := h.validate.Bind(c, &req); err != nil {
		return err
	}
	check, err := h.service.ValidateDestination(c.UserContext(), caller, req.BankDetails.details())
	if err != nil {
		return err
	}
	return c.JSON(check)
}

// Pending lists withdrawals awaiting a decision.
func (h *Handler) Pending(c *fiber.Ctx) error {
	admin, err := auth.Require(c)
	if err != nil {
		return err
	}
	list, err := h.service.Pending(c.UserContext(), admin, c.QueryInt("limit"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"withdrawals": list, "count": len(list)})
}

// History lists the caller's withdrawals.
func (h *Handler) History(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	if c.QueryInt("limit") < 0 {
		return apperr.New(apperr.InvalidArgument, "limit must not be negative")
	}
	list, err := h.service.History(c.UserContext(), caller, c.QueryInt("limit"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"withdrawals": list, "count": len(list)})
}
