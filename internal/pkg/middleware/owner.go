package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/qwikcal/qwikcal/app/repository"
)

const ownerContextKey = "OWNER_CONTEXT"

// OwnerContext carries the authenticated caller's identity for a request.
// Authentication itself happens at the edge; this service trusts the
// forwarded identity headers.
type OwnerContext struct {
	OwnerID string `json:"owner_id"`
	Email   string `json:"email"`
}

// OwnerAuthMiddleware extracts the owner identity from the X-Owner-ID and
// X-Owner-Email headers set by the authenticating proxy. Requests without an
// owner ID are rejected. The account record is bootstrapped best-effort on
// first sight so entitlement lookups have something to read.
func OwnerAuthMiddleware(accounts repository.AccountRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ownerID := c.Get("X-Owner-ID")
		if ownerID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Missing owner identity",
			})
		}
		email := c.Get("X-Owner-Email")

		if _, err := accounts.GetOrCreate(ownerID, email); err != nil {
			log.Errorf("[Middleware] Account bootstrap for %s failed: %v", ownerID, err)
		}

		c.Locals(ownerContextKey, OwnerContext{OwnerID: ownerID, Email: email})
		return c.Next()
	}
}

// GetOwnerContext retrieves the owner context for a request. Zero value when
// the auth middleware did not run.
func GetOwnerContext(c *fiber.Ctx) OwnerContext {
	if ctx := c.Locals(ownerContextKey); ctx != nil {
		return ctx.(OwnerContext)
	}
	return OwnerContext{}
}

// GetOwnerID returns the authenticated owner ID, empty when absent.
func GetOwnerID(c *fiber.Ctx) string {
	return GetOwnerContext(c).OwnerID
}
