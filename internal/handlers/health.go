package handlers

import (
	"time"

	"apexwatch/internal/database"
	"apexwatch/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler reports component health for orchestration probes.
type HealthHandler struct {
	redis *services.RedisService
	db    *database.DB
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(redis *services.RedisService, db *database.DB) *HealthHandler {
	return &HealthHandler{redis: redis, db: db}
}

// HandleHealth checks the engine's dependencies.
// GET /health
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	status := "healthy"
	components := fiber.Map{}

	if err := h.redis.Ping(c.Context()); err != nil {
		status = "degraded"
		components["redis"] = "unreachable: " + err.Error()
	} else {
		components["redis"] = "ok"
	}

	if err := h.db.PingContext(c.Context()); err != nil {
		status = "degraded"
		components["database"] = "unreachable: " + err.Error()
	} else {
		components["database"] = "ok"
	}

	code := fiber.StatusOK
	if status != "healthy" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
