// Package middleware holds fiber middleware for the widget API.
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// RequireToken guards write endpoints with a shared bearer token.
// An empty token disables the check.
func RequireToken(token string) fiber.Handler {
	want := sha256.Sum256([]byte(token))

	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}

		// Format: "Bearer <token>"
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "missing_token",
				"message": "Use Authorization: Bearer YOUR_TOKEN",
			})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "invalid_auth_format",
				"message": "Authorization header must be in format: Bearer YOUR_TOKEN",
			})
		}

		got := sha256.Sum256([]byte(strings.TrimSpace(parts[1])))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "invalid_token",
				"message": "Token is not valid",
			})
		}

		return c.Next()
	}
}
