package handlers

import (
	"encoding/json"
	"log"
	"time"

	"apexwatch/internal/models"
	"apexwatch/internal/services"

	"github.com/gofiber/fiber/v2"
)

// AssetHandler is the administrative interface for asset
// configurations. Updates take effect on the next processing cycle;
// the engine never needs a restart to honor new thresholds.
type AssetHandler struct {
	assets *services.AssetService
}

// NewAssetHandler creates the admin handler.
func NewAssetHandler(assets *services.AssetService) *AssetHandler {
	return &AssetHandler{assets: assets}
}

// HandleList returns all configured assets.
// GET /api/assets
func (h *AssetHandler) HandleList(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"assets": h.assets.List(),
	})
}

// HandleGet returns one asset's configuration (defaults for unknown
// assets, so collectors can discover effective settings).
// GET /api/assets/:id
func (h *AssetHandler) HandleGet(c *fiber.Ctx) error {
	return c.JSON(h.assets.Get(c.Params("id")))
}

// assetUpdate is the wire form of a configuration update. Fields are
// pointers so an omitted field leaves the stored value alone, and
// durations come in as strings ("45m", "2h") rather than nanosecond
// integers.
type assetUpdate struct {
	Name                 *string           `json:"name"`
	StalenessHorizon     *string           `json:"staleness_horizon"`
	EventTimeout         *string           `json:"event_timeout"`
	RetryCeiling         *int              `json:"retry_ceiling"`
	ContextTTL           *string           `json:"context_ttl"`
	RefreshEndpoints     map[string]string `json:"refresh_endpoints"`
	PriceChangeThreshold *float64          `json:"price_change_threshold"`
	VolumeSpikeThreshold *float64          `json:"volume_spike_threshold"`
	TransferThreshold    *float64          `json:"transfer_threshold"`
}

// HandleUpdate merges an update into the asset's current configuration.
// Only fields present in the body change; a partial PUT never zeroes
// the rest.
// PUT /api/assets/:id
func (h *AssetHandler) HandleUpdate(c *fiber.Ctx) error {
	var upd assetUpdate
	if err := json.Unmarshal(c.Body(), &upd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid configuration: " + err.Error(),
		})
	}

	cfg := h.assets.Get(c.Params("id"))
	if upd.Name != nil {
		cfg.Name = *upd.Name
	}
	if upd.RetryCeiling != nil {
		cfg.RetryCeiling = *upd.RetryCeiling
	}
	if upd.PriceChangeThreshold != nil {
		cfg.PriceChangeThreshold = *upd.PriceChangeThreshold
	}
	if upd.VolumeSpikeThreshold != nil {
		cfg.VolumeSpikeThreshold = *upd.VolumeSpikeThreshold
	}
	if upd.TransferThreshold != nil {
		cfg.TransferThreshold = *upd.TransferThreshold
	}
	if upd.RefreshEndpoints != nil {
		endpoints := make(map[models.SegmentKind]string, len(upd.RefreshEndpoints))
		for kind, url := range upd.RefreshEndpoints {
			endpoints[models.SegmentKind(kind)] = url
		}
		cfg.RefreshEndpoints = endpoints
	}

	for _, f := range []struct {
		name  string
		raw   *string
		field *time.Duration
	}{
		{"staleness_horizon", upd.StalenessHorizon, &cfg.StalenessHorizon},
		{"event_timeout", upd.EventTimeout, &cfg.EventTimeout},
		{"context_ttl", upd.ContextTTL, &cfg.ContextTTL},
	} {
		if f.raw == nil {
			continue
		}
		d, err := time.ParseDuration(*f.raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid " + f.name + ": " + err.Error(),
			})
		}
		*f.field = d
	}
	cfg.ID = c.Params("id")

	if err := h.assets.Update(cfg); err != nil {
		log.Printf("❌ [ASSETS] Update failed for %s: %v", cfg.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to persist configuration",
		})
	}

	log.Printf("⚙️ [ASSETS] Configuration updated for %s", cfg.ID)
	return c.JSON(fiber.Map{
		"status": "updated",
		"asset":  h.assets.Get(cfg.ID),
	})
}
