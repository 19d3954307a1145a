package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"apexwatch/internal/models"

	"github.com/gofiber/fiber/v2"
)

type stubQueue struct {
	enqueued []models.Event
	err      error
	depth    int64
	pending  int64
}

func (q *stubQueue) Enqueue(ctx context.Context, event models.Event) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, event)
	return nil
}

func (q *stubQueue) Depth(ctx context.Context) (int64, error)        { return q.depth, nil }
func (q *stubQueue) PendingCount(ctx context.Context) (int64, error) { return q.pending, nil }

func newEventApp(queue EventSink) *fiber.App {
	app := fiber.New()
	h := NewEventHandler(queue)
	app.Post("/api/events", h.HandleSubmit)
	app.Get("/api/queue/status", h.HandleQueueStatus)
	return app
}

func TestHandleSubmitQueuesEvent(t *testing.T) {
	queue := &stubQueue{}
	app := newEventApp(queue)

	body := `{"asset_id":"BTC","kind":"price_change","payload":{"exchange":"binance","old_price":50000,"new_price":52500,"change_percent":5}}`
	req := httptest.NewRequest("POST", "/api/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body = %s", resp.StatusCode, raw)
	}

	var parsed map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if parsed["status"] != "queued" {
		t.Errorf("status = %q", parsed["status"])
	}
	if parsed["event_id"] == "" {
		t.Error("missing generated event id")
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(queue.enqueued))
	}
	got := queue.enqueued[0]
	if got.AssetID != "BTC" || got.Kind != models.EventPriceChange {
		t.Errorf("event = %+v", got)
	}
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Error("handler must fill id and timestamp")
	}
}

func TestHandleSubmitKeepsClientID(t *testing.T) {
	queue := &stubQueue{}
	app := newEventApp(queue)

	body := `{"id":"client-id-1","asset_id":"BTC","kind":"news_update","payload":{"title":"t","source":"s","summary":"x","relevance_score":0.5,"sentiment_score":0}}`
	req := httptest.NewRequest("POST", "/api/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if queue.enqueued[0].ID != "client-id-1" {
		t.Errorf("id = %q, client-supplied id must survive", queue.enqueued[0].ID)
	}
}

func TestHandleSubmitRejectsMalformedJSON(t *testing.T) {
	queue := &stubQueue{}
	app := newEventApp(queue)

	req := httptest.NewRequest("POST", "/api/events", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if len(queue.enqueued) != 0 {
		t.Error("malformed body must not reach the queue")
	}
}

func TestHandleSubmitValidationErrorIs400(t *testing.T) {
	queue := &stubQueue{err: models.NewValidationError("unknown event kind \"guess\"")}
	app := newEventApp(queue)

	body := `{"asset_id":"BTC","kind":"guess","payload":{}}`
	req := httptest.NewRequest("POST", "/api/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400 for validation failure", resp.StatusCode)
	}
}

func TestHandleQueueStatus(t *testing.T) {
	app := newEventApp(&stubQueue{depth: 12, pending: 3})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/queue/status", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var parsed struct {
		QueueSize int64 `json:"queue_size"`
		Pending   int64 `json:"pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed.QueueSize != 12 || parsed.Pending != 3 {
		t.Errorf("status = %+v", parsed)
	}
}
