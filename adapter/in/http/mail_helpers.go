// Package http exposes the REST surface mounted under /api.
package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"mailflow_server/pkg/apperr"
)

// requestContext returns the context carrying request id and session user.
func requestContext(c *fiber.Ctx) context.Context {
	return c.UserContext()
}

// bindJSON parses the request body into v.
func bindJSON(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return apperr.BadRequest("Invalid request body").WithError(err)
	}
	return nil
}

// sendJSONBytes writes an already encoded JSON document.
func sendJSONBytes(c *fiber.Ctx, body []byte) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Send(body)
}
