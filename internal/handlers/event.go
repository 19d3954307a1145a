package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"apexwatch/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// EventSink is the queue surface the handler needs.
type EventSink interface {
	Enqueue(ctx context.Context, event models.Event) error
	Depth(ctx context.Context) (int64, error)
	PendingCount(ctx context.Context) (int64, error)
}

// EventHandler accepts event submissions from collector services.
type EventHandler struct {
	queue EventSink
}

// NewEventHandler creates a new event handler.
func NewEventHandler(queue EventSink) *EventHandler {
	return &EventHandler{queue: queue}
}

// eventSubmission is the inbound wire shape. The ID is optional;
// collectors that supply one get idempotent resubmission for free.
type eventSubmission struct {
	ID        string           `json:"id"`
	AssetID   string           `json:"asset_id"`
	Kind      models.EventKind `json:"kind"`
	Payload   json.RawMessage  `json:"payload"`
	Timestamp *time.Time       `json:"timestamp"`
}

// HandleSubmit receives an event and enqueues it durably.
// POST /api/events
func (h *EventHandler) HandleSubmit(c *fiber.Ctx) error {
	var sub eventSubmission
	if err := json.Unmarshal(c.Body(), &sub); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid payload format: " + err.Error(),
		})
	}

	event := models.Event{
		ID:      sub.ID,
		AssetID: sub.AssetID,
		Kind:    sub.Kind,
		Payload: sub.Payload,
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if sub.Timestamp != nil {
		event.Timestamp = sub.Timestamp.UTC()
	} else {
		event.Timestamp = time.Now().UTC()
	}

	if err := h.queue.Enqueue(c.Context(), event); err != nil {
		var pe *models.ProcessingError
		if errors.As(err, &pe) && pe.Class == models.ErrValidation {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": pe.Message,
			})
		}
		log.Printf("❌ [EVENTS] Enqueue failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to enqueue event",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":   "queued",
		"event_id": event.ID,
		"kind":     event.Kind,
	})
}

// HandleQueueStatus reports queue depth and pending deliveries.
// GET /api/queue/status
func (h *EventHandler) HandleQueueStatus(c *fiber.Ctx) error {
	depth, err := h.queue.Depth(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read queue depth",
		})
	}
	pending, err := h.queue.PendingCount(c.Context())
	if err != nil {
		pending = 0
	}

	return c.JSON(fiber.Map{
		"queue_size": depth,
		"pending":    pending,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
