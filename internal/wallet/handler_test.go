package wallet

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/auth"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
	"github.com/lexconsult/lexconsult_wallet/internal/logging"
	"github.com/lexconsult/lexconsult_wallet/internal/validation"
)

func setupTestApp(t *testing.T, caller auth.Caller) (*fiber.App, ledger.Store) {
	t.Helper()
	svc, store := newTestService(t)
	h := NewHandler(svc, validation.New())

	app := fiber.New(fiber.Config{ErrorHandler: apperr.Handler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		auth.WithCaller(c, caller)
		return c.Next()
	})
	app.Get("/wallet", h.Balance)
	app.Post("/wallet/transactions", h.PostTransaction)
	app.Get("/wallet/transactions", h.ListTransactions)
	app.Post("/internal/accounts", h.OpenAccount)
	return app, store
}

func decode(t *testing.T, body io.Reader, dst any) {
	t.Helper()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func TestHandlerRefundCreditsCaller(t *testing.T) {
	app, store := setupTestApp(t, auth.Caller{ID: "client-1", Role: ledger.RoleClient})
	seed(t, store, "client-1", ledger.RoleClient, 100)

	req := httptest.NewRequest("POST", "/wallet/transactions", strings.NewReader(`{"amount":50,"type":"refund","description":"dropped call"}`))
	req.Header.Set("Content-Type", "application/json")
	res, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}

	var body transactionResponse
	decode(t, res.Body, &body)
	if body.NewBalance != 150 || body.Transaction.Kind != ledger.KindRefund {
		t.Fatalf("unexpected response %+v", body)
	}
}

func TestHandlerDebitBeyondBalanceIsPreconditionFailure(t *testing.T) {
	app, store := setupTestApp(t, auth.Caller{ID: "client-1", Role: ledger.RoleClient})
	seed(t, store, "client-1", ledger.RoleClient, 10)

	req := httptest.NewRequest("POST", "/wallet/transactions", strings.NewReader(`{"amount":50,"type":"debit"}`))
	req.Header.Set("Content-Type", "application/json")
	res, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.StatusCode != fiber.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", res.StatusCode)
	}
}

func TestHandlerRejectsUnknownType(t *testing.T) {
	app, store := setupTestApp(t, auth.Caller{ID: "client-1", Role: ledger.RoleClient})
	seed(t, store, "client-1", ledger.RoleClient, 10)

	req := httptest.NewRequest("POST", "/wallet/transactions", strings.NewReader(`{"amount":5,"type":"gift"}`))
	req.Header.Set("Content-Type", "application/json")
	res, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

func TestHandlerListTransactions(t *testing.T) {
	app, store := setupTestApp(t, auth.Caller{ID: "client-1", Role: ledger.RoleClient})
	seed(t, store, "client-1", ledger.RoleClient, 10)

	res, err := app.Test(httptest.NewRequest("GET", "/wallet/transactions?limit=5&orderBy=amount&direction=asc", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var body struct {
		Transactions []ledger.Transaction `json:"transactions"`
		Count        int                  `json:"count"`
	}
	decode(t, res.Body, &body)
	if body.Count != 1 || body.Transactions[0].Amount != 10 {
		t.Fatalf("unexpected history %+v", body)
	}

	res, err = app.Test(httptest.NewRequest("GET", "/wallet/transactions?orderBy=nope", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

func TestHandlerOpenAccountRequiresSystemRole(t *testing.T) {
	app, _ := setupTestApp(t, auth.Caller{ID: "client-1", Role: ledger.RoleClient})

	req := httptest.NewRequest("POST", "/internal/accounts", strings.NewReader(`{"account_id":"lawyer-9","role":"lawyer"}`))
	req.Header.Set("Content-Type", "application/json")
	res, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.StatusCode)
	}
}

func TestHandlerBalanceUnknownAccount(t *testing.T) {
	app, _ := setupTestApp(t, auth.Caller{ID: "nobody", Role: ledger.RoleClient})

	res, err := app.Test(httptest.NewRequest("GET", "/wallet", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}
