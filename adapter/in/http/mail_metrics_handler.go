package http

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"mailflow_server/pkg/cache"
	"mailflow_server/pkg/metrics"
)

// CacheStatser exposes local cache counters.
type CacheStatser interface {
	Stats() cache.Stats
}

// MetricsHandler serves in-process runtime statistics.
type MetricsHandler struct {
	latency *metrics.LatencyRegistry
	db      *sql.DB
	cache   CacheStatser
}

func NewMetricsHandler(latency *metrics.LatencyRegistry, db *sql.DB, cache CacheStatser) *MetricsHandler {
	return &MetricsHandler{latency: latency, db: db, cache: cache}
}

func (h *MetricsHandler) Register(router fiber.Router) {
	router.Get("/metrics", h.Metrics)
}

func (h *MetricsHandler) Metrics(c *fiber.Ctx) error {
	body := fiber.Map{
		"db_pool": metrics.DBPoolStats(h.db),
	}
	if h.latency != nil {
		body["latency"] = h.latency.AllStats()
	}
	if h.cache != nil {
		body["cache"] = h.cache.Stats()
	}
	return c.JSON(body)
}
