package auth

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lexconsult/lexconsult_wallet/internal/apperr"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
)

const callerLocalsKey = "caller"

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingClaims = errors.New("missing caller claims")
)

// Caller is the verified identity of the account making a request.
type Caller struct {
	ID   string
	Role ledger.Role
}

// Is reports whether the caller holds one of roles.
func (c Caller) Is(roles ...ledger.Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens minted by the identity service.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse verifies tokenString and returns the caller it names.
func (v *Verifier) Parse(tokenString string) (Caller, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(5*time.Second))
	if err != nil || !tok.Valid {
		return Caller{}, ErrInvalidToken
	}

	role := ledger.Role(c.Role)
	if c.Subject == "" || !role.Valid() {
		return Caller{}, ErrMissingClaims
	}
	return Caller{ID: c.Subject, Role: role}, nil
}

// Issue mints a token for caller valid for ttl. The identity service owns real
// issuance; this is used by tests and local tooling.
func (v *Verifier) Issue(caller Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(caller.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(v.secret)
}

// WithCaller stores the caller on the request.
func WithCaller(c *fiber.Ctx, caller Caller) {
	c.Locals(callerLocalsKey, caller)
}

// CallerFrom returns the caller stored by the auth middleware.
func CallerFrom(c *fiber.Ctx) (Caller, bool) {
	caller, ok := c.Locals(callerLocalsKey).(Caller)
	return caller, ok
}

// Require returns the caller or an unauthenticated error.
func Require(c *fiber.Ctx) (Caller, error) {
	caller, ok := CallerFrom(c)
	if !ok {
		return Caller{}, apperr.New(apperr.Unauthenticated, "authentication required")
	}
	return caller, nil
}

// RequireRole returns the caller when it holds one of roles.
func RequireRole(c *fiber.Ctx, roles ...ledger.Role) (Caller, error) {
	caller, err := Require(c)
	if err != nil {
		return Caller{}, err
	}
	if !caller.Is(roles...) {
		return Caller{}, apperr.New(apperr.PermissionDenied, "operation not permitted for this role")
	}
	return caller, nil
}
