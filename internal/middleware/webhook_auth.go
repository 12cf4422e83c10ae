package middleware

import (
	"crypto/subtle"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
)

// ValidateWebhookToken checks the shared secret the webhook providers are
// configured to send, either as an X-Webhook-Token header or a token query
// parameter.
func ValidateWebhookToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := os.Getenv("WEBHOOK_TOKEN")
		if expected == "" {
			// Log error but don't expose to client
			log.Println("ERROR: WEBHOOK_TOKEN not set")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Server configuration error",
			})
		}

		got := c.Get("X-Webhook-Token")
		if got == "" {
			got = c.Query("token")
		}
		if got == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing webhook token",
			})
		}

		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid webhook token",
			})
		}

		return c.Next()
	}
}
