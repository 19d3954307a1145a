package middleware

import (
	"crypto/subtle"
	"log"

	"github.com/gofiber/fiber/v2"
)

// AccessKeyMiddleware validates the shared-secret X-Access-Key header
// collectors and the dashboard authenticate with.
func AccessKeyMiddleware(accessKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if accessKey == "" {
			// No key configured: open mode, development only.
			return c.Next()
		}

		provided := c.Get("X-Access-Key")
		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing access key. Include X-Access-Key header.",
			})
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(accessKey)) != 1 {
			log.Printf("❌ [AUTH] Invalid access key attempt from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid access key",
			})
		}

		return c.Next()
	}
}
