package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/auth"
)

// Authenticate resolves the bearer token into a caller. Requests without a
// valid token are rejected as unauthenticated.
func Authenticate(verifier *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return apperr.New(apperr.Unauthenticated, "missing bearer token")
		}
		caller, err := verifier.Parse(strings.TrimSpace(authz[len("bearer "):]))
		if errors.Is(err, auth.ErrMissingClaims) {
			return apperr.Wrap(apperr.Unauthenticated, "token does not name a caller", err)
		}
		if err != nil {
			return apperr.Wrap(apperr.Unauthenticated, "invalid token", err)
		}
		auth.WithCaller(c, caller)
		return c.Next()
	}
}
