package billing

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/auth"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
	"github.com/lexconsult/lexconsult_wallet/internal/validation"
)

// Handler exposes call billing endpoints.
type Handler struct {
	service  *Service
	validate *validation.Validator
}

// NewHandler constructs a billing handler.
func NewHandler(service *Service, validate *validation.Validator) *Handler {
	return &Handler{service: service, validate: validate}
}

type registerRequest struct {
	CallID        string `json:"call_id" validate:"required,max=128"`
	PayerID       string `json:"payer_id" validate:"required,max=128"`
	PayeeID       string `json:"payee_id" validate:"required,max=128,nefield=PayerID"`
	CallType      string `json:"call_type" validate:"required,oneof=audio video chat"`
	RatePerMinute int64  `json:"rate_per_minute" validate:"gte=0"`
}

// Register records a call reported by the signalling service.
func (h *Handler) Register(c *fiber.Ctx) error {
	if _, err := auth.RequireRole(c, ledger.RoleSystem); err != nil {
		return err
	}
	var req registerRequest
	if err := h.validate.Bind(c, &req); err != nil {
		return err
	}
	call, err := h.service.RegisterCall(c.UserContext(), ledger.Call{
		ID:            req.CallID,
		PayerID:       req.PayerID,
		PayeeID:       req.PayeeID,
		CallType:      req.CallType,
		RatePerMinute: req.RatePerMinute,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(call)
}

type settleRequest struct {
	DurationSeconds *int64 `json:"duration_seconds" validate:"required,gte=0"`
}

// Settle charges the caller for a finished call.
func (h *Handler) Settle(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	var req settleRequest
	if err := h.validate.Bind(c, &req); err != nil {
		return err
	}

	res, err := h.service.Settle(c.UserContext(), caller.ID, c.Params("callId"), *req.DurationSeconds)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// Record returns the billing state of a call.
func (h *Handler) Record(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	callID := c.Params("callId")
	if callID == "" {
		return apperr.New(apperr.InvalidArgument, "call id is required")
	}
	rec, err := h.service.Record(c.UserContext(), caller.ID, callID)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}
