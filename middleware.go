package identity

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// ClaimsContextKey is where the middleware stores the verified claims
const ClaimsContextKey = "identity_claims"

// AuthRequired validates the bearer access token and injects its claims
// into the request context
func AuthRequired(tokens TokenService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c)
		if err != nil {
			return err
		}

		claims, err := tokens.VerifyAccess(raw)
		if err != nil {
			return err
		}

		c.Locals(ClaimsContextKey, claims)
		c.SetUserContext(WithClaimsContext(c.UserContext(), claims))
		return c.Next()
	}
}

// RoleRequired gates a route to a minimum role, must run after AuthRequired
func RoleRequired(minRole UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := ClaimsFromContext(c)
		if claims == nil {
			return goerrors.New("missing authentication", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized)
		}

		if !claims.IsAtLeast(minRole) {
			return goerrors.New("insufficient permissions", goerrors.CategoryAuth).
				WithCode(goerrors.CodeForbidden)
		}

		return c.Next()
	}
}

// ClaimsFromContext returns the verified claims or nil
func ClaimsFromContext(c *fiber.Ctx) AuthClaims {
	claims, _ := c.Locals(ClaimsContextKey).(AuthClaims)
	return claims
}

func bearerToken(c *fiber.Ctx) (string, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return "", goerrors.New("authorization header missing", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", goerrors.New("invalid authorization header format", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	return parts[1], nil
}
