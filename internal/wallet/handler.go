package wallet

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/auth"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
	"github.com/lexconsult/lexconsult_wallet/internal/validation"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service  *Service
	validate *validation.Validator
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, validate *validation.Validator) *Handler {
	return &Handler{service: service, validate: validate}
}

type transactionRequest struct {
	Amount      int64  `json:"amount" validate:"gt=0"`
	Type        string `json:"type" validate:"required,oneof=credit debit refund"`
	Description string `json:"description" validate:"max=500"`
}

type transactionResponse struct {
	NewBalance  int64              `json:"new_balance"`
	Transaction ledger.Transaction `json:"transaction"`
}

// PostTransaction credits or debits the caller's own wallet.
func (h *Handler) PostTransaction(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	var req transactionRequest
	if err := h.validate.Bind(c, &req); err != nil {
		return err
	}

	entry := Entry{
		AccountID:       caller.ID,
		Amount:          req.Amount,
		Kind:            ledger.KindPayoutCorrection,
		RelatedEntityID: caller.ID,
		Description:     req.Description,
	}

	var txn ledger.Transaction
	switch req.Type {
	case "credit":
		txn, err = h.service.Credit(c.UserContext(), entry)
	case "refund":
		entry.Kind = ledger.KindRefund
		txn, err = h.service.Credit(c.UserContext(), entry)
	case "debit":
		txn, err = h.service.Debit(c.UserContext(), entry)
	}
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(transactionResponse{NewBalance: txn.BalanceAfter, Transaction: txn})
}

type historyRequest struct {
	Limit     int    `query:"limit"`
	OrderBy   string `query:"orderBy"`
	Direction string `query:"direction"`
}

// ListTransactions returns the caller's transaction history.
func (h *Handler) ListTransactions(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	var req historyRequest
	if err := c.QueryParser(&req); err != nil {
		return apperr.New(apperr.InvalidArgument, "invalid query parameters")
	}

	txns, err := h.service.History(c.UserContext(), caller.ID, HistoryParams{
		Limit:     req.Limit,
		OrderBy:   req.OrderBy,
		Direction: req.Direction,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transactions": txns, "count": len(txns)})
}

// Balance returns the caller's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	caller, err := auth.Require(c)
	if err != nil {
		return err
	}
	acct, err := h.service.Balance(c.UserContext(), caller.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"account_id": acct.ID,
		"role":       acct.Role,
		"balance":    acct.Balance,
		"updated_at": acct.UpdatedAt,
	})
}

type openRequest struct {
	AccountID string `json:"account_id" validate:"required,max=128"`
	Role      string `json:"role" validate:"required,oneof=client lawyer admin superadmin system"`
}

// OpenAccount provisions an account on behalf of the identity service.
func (h *Handler) OpenAccount(c *fiber.Ctx) error {
	if _, err := auth.RequireRole(c, ledger.RoleSystem); err != nil {
		return err
	}
	var req openRequest
	if err := h.validate.Bind(c, &req); err != nil {
		return err
	}
	acct, err := h.service.Open(c.UserContext(), req.AccountID, ledger.Role(req.Role))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(acct)
}

// Reconcile audits an account's balance against its log.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	if _, err := auth.RequireRole(c, ledger.RoleAdmin, ledger.RoleSuperAdmin); err != nil {
		return err
	}
	r, err := h.service.Reconcile(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return err
	}
	return c.JSON(r)
}
