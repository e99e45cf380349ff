package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const userIDKey = "user_id"

// Authorizer resolves a bearer token to a user id.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (string, error)
}

// JWTAuth rejects requests without a valid bearer token and stores the
// caller's id in Locals("user_id").
func JWTAuth(auth Authorizer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		uid, err := auth.Authorize(c.UserContext(), strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		c.Locals(userIDKey, uid)
		return c.Next()
	}
}
