package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mailflow_server/pkg/metrics"
)

// Latency records handler time per "METHOD /route/pattern".
func Latency(registry *metrics.LatencyRegistry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		registry.Record(c.Method()+" "+c.Route().Path, time.Since(start))
		return err
	}
}
