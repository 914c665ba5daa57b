package recharge

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lexconsult/lexconsult_wallet/internal/auth"
	"github.com/lexconsult/lexconsult_wallet/internal/validation"
)

// Handler exposes the payment endpoints.
type Handler struct {
	service  *Service
	validate *validation.Validator
}

func NewHandler(service *Service, validate *validation.Validator) *Handler {
	return &Handler{service: service, validate: validate}
}

type createOrderBody struct {
	Amount   int64  `json:"amount" validate:"gt=0"`
	Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
}

// CreateOrder opens a recharge order for the caller.
func (h *Handler) CreateOrder(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	var req createOrderBody
	if err := h.validate.Bind(c, &req); err != nil {
		return err
	}
	intent, err := h.service.CreateOrder(c.UserContext(), caller, req.Amount, req.Currency)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"order_id": intent.OrderID,
		"amount":   intent.Amount,
		"currency": intent.Currency,
		"status":   intent.Status,
	})
}

type verifyBody struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required,hexadecimal"`
}

// Verify credits a paid order after checking the provider signature.
func (h *Handler) Verify(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	var req verifyBody
	if err := h.validate.Bind(c, &req); err != nil {
		return err
	}
	out, err := h.service.Verify(c.UserContext(), caller, req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		return err
	}
	return c.JSON(out)
}
