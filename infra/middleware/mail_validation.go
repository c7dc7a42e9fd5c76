package middleware

import (
	"regexp"

	"github.com/gofiber/fiber/v2"

	"mailflow_server/pkg/apperr"
)

// Gmail message ids are URL-safe tokens.
var messageIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// ValidateMessageID rejects path parameters that cannot be Gmail ids.
func ValidateMessageID(paramName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		value := c.Params(paramName)
		if value == "" {
			return apperr.MissingField(paramName)
		}
		if !messageIDPattern.MatchString(value) {
			return apperr.ValidationFailed("invalid message id").WithDetail("field", paramName)
		}
		return c.Next()
	}
}

// RequireJSON rejects bodies that are not declared as JSON.
func RequireJSON() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > 0 && !c.Is("json") {
			return apperr.BadRequest("Content-Type must be application/json")
		}
		return c.Next()
	}
}
