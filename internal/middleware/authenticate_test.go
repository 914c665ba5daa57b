package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/auth"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
	"github.com/lexconsult/lexconsult_wallet/internal/logging"
)

func authApp(verifier *auth.Verifier) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: apperr.Handler(logging.Discard())})
	app.Use(RequestID(), Audit(logging.Discard()), Authenticate(verifier))
	app.Get("/me", func(c *fiber.Ctx) error {
		caller, err := auth.Require(c)
		if err != nil {
			return err
		}
		return c.SendString(caller.ID + ":" + string(caller.Role))
	})
	return app
}

func TestAuthenticateResolvesCaller(t *testing.T) {
	verifier := auth.NewVerifier("secret")
	token, err := verifier.Issue(auth.Caller{ID: "lawyer-7", Role: ledger.RoleLawyer}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	resp, err := authApp(verifier).Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected a request id header")
	}
}

func TestAuthenticateRejects(t *testing.T) {
	verifier := auth.NewVerifier("secret")
	forged, err := auth.NewVerifier("other").Issue(auth.Caller{ID: "client-1", Role: ledger.RoleClient}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, err := verifier.Issue(auth.Caller{ID: "client-1", Role: ledger.RoleClient}, -time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for name, header := range map[string]string{
		"missing": "",
		"scheme":  "Basic abc",
		"forged":  "Bearer " + forged,
		"expired": "Bearer " + expired,
	} {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := authApp(verifier).Test(req)
		if err != nil {
			t.Fatalf("%s: app.Test: %v", name, err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", name, resp.StatusCode)
		}
	}
}

func TestRateLimitPerCaller(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New(fiber.Config{ErrorHandler: apperr.Handler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		auth.WithCaller(c, auth.Caller{ID: c.Get("X-Caller"), Role: ledger.RoleLawyer})
		return c.Next()
	})
	app.Post("/withdrawals", RateLimit(cache, "withdrawals", 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func(caller string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/withdrawals", nil)
		req.Header.Set("X-Caller", caller)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := send("lawyer-1"); got != fiber.StatusCreated {
			t.Fatalf("request %d: expected 201 got %d", i, got)
		}
	}
	if got := send("lawyer-1"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", got)
	}
	if got := send("lawyer-2"); got != fiber.StatusCreated {
		t.Fatalf("expected other caller to pass, got %d", got)
	}
}
