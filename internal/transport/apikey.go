package transport

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// APIKeyHeader carries the shared-secret key on service-to-service calls.
const APIKeyHeader = "X-Api-Key"

// APIKeyAuth rejects requests whose key header does not match the configured
// secret. Runs before any business logic; a missing or wrong key is a 401.
func APIKeyAuth(key string) fiber.Handler {
	expected := []byte(strings.TrimSpace(key))

	return func(c *fiber.Ctx) error {
		presented := []byte(strings.TrimSpace(c.Get(APIKeyHeader)))
		if len(expected) == 0 || subtle.ConstantTimeCompare(presented, expected) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or missing api key")
		}
		return c.Next()
	}
}
