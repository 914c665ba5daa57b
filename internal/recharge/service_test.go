package recharge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/auth"
	"github.com/lexconsult/lexconsult_wallet/internal/gateway"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
	"github.com/lexconsult/lexconsult_wallet/internal/logging"
	"github.com/lexconsult/lexconsult_wallet/internal/notification"
	"github.com/lexconsult/lexconsult_wallet/internal/validation"
	"github.com/lexconsult/lexconsult_wallet/internal/wallet"
)

const secret = "signing-secret"

var client = auth.Caller{ID: "client-1", Role: ledger.RoleClient}

type failingGateway struct{}

func (failingGateway) CreateOrder(context.Context, OrderRequest) (string, error) {
	return "", errors.New("provider down")
}

func newService(t *testing.T, gw OrderGateway) (*Service, *wallet.Service) {
	t.Helper()
	store := ledger.NewInMemory()
	require.NoError(t, ledger.SeedAccount(store, client.ID, ledger.RoleClient, 100))
	require.NoError(t, ledger.SeedAccount(store, "client-2", ledger.RoleClient, 0))
	led := wallet.NewService(store, wallet.Options{MaxAttempts: 50})
	return NewService(led, gw, Options{SigningSecret: secret}), led
}

func TestVerifyCreditsOnce(t *testing.T) {
	svc, led := newService(t, nil)
	ctx := context.Background()

	intent, err := svc.CreateOrder(ctx, client, 500, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.IntentCreated, intent.Status)
	assert.Equal(t, "INR", intent.Currency)

	sig := Sign(secret, intent.OrderID, "pay_1")
	first, err := svc.Verify(ctx, client, intent.OrderID, "pay_1", sig)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(600), first.NewBalance)
	assert.Equal(t, ledger.KindRecharge, first.Transaction.Kind)
	assert.Equal(t, intent.OrderID, first.Transaction.RelatedEntityID)

	again, err := svc.Verify(ctx, client, intent.OrderID, "pay_1", sig)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Transaction.ID, again.Transaction.ID)
	assert.Equal(t, int64(600), again.NewBalance)

	acct, err := led.Balance(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), acct.Balance)
}

func TestConcurrentVerifyCreditsOnce(t *testing.T) {
	svc, led := newService(t, nil)
	ctx := context.Background()

	intent, err := svc.CreateOrder(ctx, client, 250, "inr")
	require.NoError(t, err)
	sig := Sign(secret, intent.OrderID, "pay_9")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Verify(ctx, client, intent.OrderID, "pay_9", sig)
		}()
	}
	wg.Wait()

	acct, err := led.Balance(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), acct.Balance)

	rec, err := led.Reconcile(ctx, client.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, 2, rec.Entries)
}

func TestVerifyRejections(t *testing.T) {
	svc, led := newService(t, nil)
	ctx := context.Background()

	intent, err := svc.CreateOrder(ctx, client, 500, "INR")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, client, intent.OrderID, "pay_1", Sign("wrong", intent.OrderID, "pay_1"))
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	_, err = svc.Verify(ctx, client, "order_missing", "pay_1", Sign(secret, "order_missing", "pay_1"))
	assert.True(t, apperr.Is(err, apperr.NotFound))

	other := auth.Caller{ID: "client-2", Role: ledger.RoleClient}
	_, err = svc.Verify(ctx, other, intent.OrderID, "pay_1", Sign(secret, intent.OrderID, "pay_1"))
	assert.True(t, apperr.Is(err, apperr.PermissionDenied))

	acct, err := led.Balance(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Balance, "rejected verifications must not credit")
}

func TestVerifyWithoutSecret(t *testing.T) {
	store := ledger.NewInMemory()
	require.NoError(t, ledger.SeedAccount(store, client.ID, ledger.RoleClient, 0))
	svc := NewService(wallet.NewService(store, wallet.Options{}), nil, Options{})

	_, err := svc.Verify(context.Background(), client, "order_1", "pay_1", Sign("", "order_1", "pay_1"))
	assert.True(t, apperr.Is(err, apperr.FailedPrecondition))
}

func TestCreateOrderFailures(t *testing.T) {
	svc, _ := newService(t, failingGateway{})
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, client, 0, "")
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	_, err = svc.CreateOrder(ctx, client, 100, "")
	assert.True(t, apperr.Is(err, apperr.ExternalGateway))

	_, err = svc.CreateOrder(ctx, auth.Caller{ID: "ghost", Role: ledger.RoleClient}, 100, "")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestHTTPOrderGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 700, body["amount"])
		assert.Equal(t, "INR", body["currency"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_remote","status":"created"}`))
	}))
	defer srv.Close()

	gw := NewHTTPOrderGateway(gateway.NewClient(srv.URL, "key", "secret", 0))
	id, err := gw.CreateOrder(context.Background(), OrderRequest{Receipt: "r1", AccountID: client.ID, Amount: 700, Currency: "INR"})
	require.NoError(t, err)
	assert.Equal(t, "order_remote", id)
}

func TestVerifyHandler(t *testing.T) {
	svc, _ := newService(t, nil)
	h := NewHandler(svc, validation.New())

	app := fiber.New(fiber.Config{ErrorHandler: apperr.Handler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		auth.WithCaller(c, client)
		return c.Next()
	})
	app.Post("/payments/orders", h.CreateOrder)
	app.Post("/payments/verify", h.Verify)

	req := httptest.NewRequest("POST", "/payments/orders", strings.NewReader(`{"amount":300}`))
	req.Header.Set("Content-Type", "application/json")
	res, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, res.StatusCode)
	var order struct {
		OrderID string `json:"order_id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&order))

	body := `{"razorpay_order_id":"` + order.OrderID + `","razorpay_payment_id":"pay_1","razorpay_signature":"` + Sign(secret, order.OrderID, "pay_1") + `"}`
	req = httptest.NewRequest("POST", "/payments/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, res.StatusCode)

	var out Verification
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Equal(t, int64(400), out.NewBalance)

	req = httptest.NewRequest("POST", "/payments/verify", strings.NewReader(`{"razorpay_order_id":"x","razorpay_payment_id":"y","razorpay_signature":"abcd"}`))
	req.Header.Set("Content-Type", "application/json")
	res, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
}

type capturingNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (c *capturingNotifier) Send(_ context.Context, m notification.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

func TestVerifyAnnouncesOrderCurrency(t *testing.T) {
	store := ledger.NewInMemory()
	require.NoError(t, ledger.SeedAccount(store, client.ID, ledger.RoleClient, 0))
	n := &capturingNotifier{}
	svc := NewService(wallet.NewService(store, wallet.Options{}), nil, Options{SigningSecret: secret, DefaultCurrency: "INR", Notifier: n})
	ctx := context.Background()

	intent, err := svc.CreateOrder(ctx, client, 1_250, "usd")
	require.NoError(t, err)
	require.Equal(t, "USD", intent.Currency)

	res, err := svc.Verify(ctx, client, intent.OrderID, "pay_usd", Sign(secret, intent.OrderID, "pay_usd"))
	require.NoError(t, err)
	assert.Equal(t, "USD", res.Currency)

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.sent, 1)
	assert.Equal(t, notification.KindRechargeCompleted, n.sent[0].Kind)
	assert.Contains(t, n.sent[0].Body, "12.50 USD")
	assert.NotContains(t, n.sent[0].Body, "INR")

	again, err := svc.Verify(ctx, client, intent.OrderID, "pay_usd", Sign(secret, intent.OrderID, "pay_usd"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, "USD", again.Currency)
}
