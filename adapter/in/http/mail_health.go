package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to HealthChecker.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type namedCheck struct {
	name    string
	checker HealthChecker
}

type HealthHandler struct {
	checks  []namedCheck
	circuit func() string
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// WithCheck adds a dependency pinged by /ready. A nil checker is reported as
// not configured.
func (h *HealthHandler) WithCheck(name string, checker HealthChecker) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, checker: checker})
	return h
}

// WithCircuit reports the Gmail breaker state on /ready without affecting
// the result.
func (h *HealthHandler) WithCircuit(state func() string) *HealthHandler {
	h.circuit = state
	return h
}

func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(requestContext(c), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks)+1)
	allHealthy := true

	for _, check := range h.checks {
		if check.checker == nil {
			checks[check.name] = "not configured"
			continue
		}
		if err := check.checker.Ping(ctx); err != nil {
			checks[check.name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[check.name] = "healthy"
		}
	}
	if h.circuit != nil {
		checks["gmail"] = h.circuit()
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
