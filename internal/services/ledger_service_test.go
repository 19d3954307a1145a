package services

import (
	"context"
	"testing"
	"time"

	"apexwatch/internal/database"
	"apexwatch/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("initialize schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testThought(id, eventID string, createdAt time.Time) models.Thought {
	return models.Thought{
		ID:         id,
		AssetID:    "BTC",
		EventID:    eventID,
		EventKind:  models.EventPriceChange,
		Prompt:     "rendered prompt",
		Content:    "the price move looks organic",
		Model:      "openai/gpt-4",
		TokensUsed: 120,
		DurationMS: 900,
		CreatedAt:  createdAt,
	}
}

func TestLedgerAppendAndQuery(t *testing.T) {
	ledger := NewLedgerService(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"t1", "t2", "t3"} {
		th := testThought(id, "e"+id, base.Add(time.Duration(i)*time.Minute))
		if err := ledger.Append(ctx, th); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	got, err := ledger.Query(ctx, "BTC", base.Add(-time.Hour), time.Time{}, false, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("rows = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Error("ascending query out of order")
		}
	}

	descRows, err := ledger.Query(ctx, "BTC", base.Add(-time.Hour), time.Time{}, true, 2)
	if err != nil {
		t.Fatalf("desc query: %v", err)
	}
	if len(descRows) != 2 {
		t.Fatalf("desc rows = %d, want limit 2", len(descRows))
	}
	if descRows[0].ID != "t3" {
		t.Errorf("newest first, got %s", descRows[0].ID)
	}
}

func TestLedgerAppendIsIdempotentOnEventID(t *testing.T) {
	ledger := NewLedgerService(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ledger.Append(ctx, testThought("t1", "e1", now)); err != nil {
		t.Fatalf("first append: %v", err)
	}
	// Redelivery writes a different thought ID for the same event.
	if err := ledger.Append(ctx, testThought("t2", "e1", now.Add(time.Second))); err != nil {
		t.Fatalf("second append: %v", err)
	}

	got, err := ledger.Query(ctx, "BTC", now.Add(-time.Hour), time.Time{}, false, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want exactly one per event", len(got))
	}
	if got[0].ID != "t1" {
		t.Errorf("first write must win, got %s", got[0].ID)
	}
}

func TestLedgerHasEvent(t *testing.T) {
	ledger := NewLedgerService(newTestDB(t))
	ctx := context.Background()

	ok, err := ledger.HasEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("HasEvent: %v", err)
	}
	if ok {
		t.Error("empty ledger reported event present")
	}

	if err := ledger.Append(ctx, testThought("t1", "e1", time.Now().UTC())); err != nil {
		t.Fatalf("append: %v", err)
	}
	ok, err = ledger.HasEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("HasEvent: %v", err)
	}
	if !ok {
		t.Error("appended event not found")
	}
}

func TestLedgerFind(t *testing.T) {
	ledger := NewLedgerService(newTestDB(t))
	ctx := context.Background()

	got, err := ledger.Find(ctx, "e1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got != nil {
		t.Fatalf("empty ledger returned %+v", got)
	}

	want := testThought("t1", "e1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err := ledger.Append(ctx, want); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err = ledger.Find(ctx, "e1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got == nil {
		t.Fatal("appended thought not found")
	}
	if got.ID != "t1" || got.Content != want.Content || got.EventKind != want.EventKind {
		t.Errorf("found = %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestLedgerTimeWindow(t *testing.T) {
	ledger := NewLedgerService(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		th := testThought("t"+string(rune('0'+i)), "e"+string(rune('0'+i)), base.Add(time.Duration(i)*time.Hour))
		if err := ledger.Append(ctx, th); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Window [base+1h, base+3h) picks rows at +1h and +2h only.
	got, err := ledger.Query(ctx, "BTC", base.Add(time.Hour), base.Add(3*time.Hour), false, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2 inside half-open window", len(got))
	}
}

func TestLedgerPruneBefore(t *testing.T) {
	ledger := NewLedgerService(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ledger.Append(ctx, testThought("old", "e-old", base))
	ledger.Append(ctx, testThought("new", "e-new", base.Add(48*time.Hour)))

	n, err := ledger.PruneBefore(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	got, _ := ledger.Query(ctx, "BTC", base.Add(-time.Hour), time.Time{}, false, 0)
	if len(got) != 1 || got[0].ID != "new" {
		t.Error("prune removed the wrong rows")
	}
}
