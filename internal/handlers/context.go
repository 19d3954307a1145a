package handlers

import (
	"time"

	"apexwatch/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ContextHandler exposes the read-only context and thought history API
// consumed by the dashboard. There is no mutation path here; context
// changes only through the processing loop.
type ContextHandler struct {
	contexts  *services.ContextService
	ledger    *services.LedgerService
	analytics *services.AnalyticsService
}

// NewContextHandler creates the read-only handler.
func NewContextHandler(contexts *services.ContextService, ledger *services.LedgerService, analytics *services.AnalyticsService) *ContextHandler {
	return &ContextHandler{contexts: contexts, ledger: ledger, analytics: analytics}
}

// HandleGetContext returns the current rolling context for an asset.
// GET /api/context/:asset_id
func (h *ContextHandler) HandleGetContext(c *fiber.Ctx) error {
	assetID := c.Params("asset_id")

	assetCtx, found, err := h.contexts.Load(c.Context(), assetID)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Context store unavailable",
		})
	}
	if !found {
		return c.JSON(fiber.Map{
			"asset_id": assetID,
			"context":  nil,
			"message":  "No context found",
		})
	}

	return c.JSON(fiber.Map{
		"asset_id": assetID,
		"context":  assetCtx,
	})
}

// HandleGetThoughts returns thought history for an asset and time range.
// GET /api/thoughts/:asset_id?from=RFC3339&to=RFC3339&order=desc&limit=50
func (h *ContextHandler) HandleGetThoughts(c *fiber.Ctx) error {
	assetID := c.Params("asset_id")

	var from, to time.Time
	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid 'from' timestamp, expected RFC3339",
			})
		}
		from = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid 'to' timestamp, expected RFC3339",
			})
		}
		to = parsed
	}

	desc := c.Query("order") == "desc"
	limit := c.QueryInt("limit", 50)

	thoughts, err := h.ledger.Query(c.Context(), assetID, from, to, desc, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to query thoughts",
		})
	}

	return c.JSON(fiber.Map{
		"asset_id": assetID,
		"thoughts": thoughts,
		"count":    len(thoughts),
	})
}

// HandleGetAnalytics returns recent metric values for an asset.
// GET /api/analytics/:asset_id?metric=price&limit=100
func (h *ContextHandler) HandleGetAnalytics(c *fiber.Ctx) error {
	assetID := c.Params("asset_id")
	metric := c.Query("metric", "price")
	limit := c.QueryInt("limit", 100)

	points, err := h.analytics.MetricSeries(c.Context(), assetID, metric, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to query analytics",
		})
	}

	return c.JSON(fiber.Map{
		"asset_id": assetID,
		"metric":   metric,
		"points":   points,
		"count":    len(points),
	})
}
