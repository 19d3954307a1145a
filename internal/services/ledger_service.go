package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"apexwatch/internal/database"
	"apexwatch/internal/models"
)

// LedgerService is the append-only, time-indexed store of generated
// thoughts. Appends are idempotent on event ID: redelivered events
// write exactly one row, which is the mitigation the at-least-once
// queue relies on.
type LedgerService struct {
	db *database.DB
}

// NewLedgerService creates a ledger over the relational store.
func NewLedgerService(db *database.DB) *LedgerService {
	return &LedgerService{db: db}
}

// Append records a thought. A second append for the same event ID is a
// no-op success, never a duplicate row.
func (s *LedgerService) Append(ctx context.Context, t models.Thought) error {
	stmt := `INSERT OR IGNORE INTO thoughts
		(id, asset_id, event_id, event_kind, prompt, thought, model, tokens_used, duration_ms, degraded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if s.db.Dialect == "mysql" {
		stmt = `INSERT IGNORE INTO thoughts
		(id, asset_id, event_id, event_kind, prompt, thought, model, tokens_used, duration_ms, degraded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}

	res, err := s.db.ExecContext(ctx, stmt,
		t.ID, t.AssetID, t.EventID, string(t.EventKind), t.Prompt, t.Content,
		t.Model, t.TokensUsed, t.DurationMS, t.Degraded, database.FormatTime(t.CreatedAt))
	if err != nil {
		return models.NewStoreError("thought append failed", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		log.Printf("⚠️ [LEDGER] Thought for event %s already present, append is a no-op", t.EventID)
	}
	return nil
}

// HasEvent reports whether a thought already exists for the event.
func (s *LedgerService) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM thoughts WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, models.NewStoreError("thought lookup failed", err)
	}
	return n > 0, nil
}

// Find returns the thought recorded for an event, or nil when none
// exists yet. Redelivery recovery uses it to replay the stored thought
// instead of invoking the model again.
func (s *LedgerService) Find(ctx context.Context, eventID string) (*models.Thought, error) {
	var t models.Thought
	var kind, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, asset_id, event_id, event_kind, prompt, thought, model,
			tokens_used, duration_ms, degraded, created_at
		FROM thoughts WHERE event_id = ?`, eventID).
		Scan(&t.ID, &t.AssetID, &t.EventID, &kind, &t.Prompt, &t.Content,
			&t.Model, &t.TokensUsed, &t.DurationMS, &t.Degraded, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewStoreError("thought lookup failed", err)
	}
	t.EventKind = models.EventKind(kind)
	if ts, err := database.ParseTime(createdAt); err == nil {
		t.CreatedAt = ts
	}
	return &t, nil
}

// Query returns thoughts for an asset within [from, to), ordered by
// generation time ascending unless desc is set. A zero `to` means no
// upper bound; limit caps the result (default 50).
func (s *LedgerService) Query(ctx context.Context, assetID string, from, to time.Time, desc bool, limit int) ([]models.Thought, error) {
	if limit <= 0 {
		limit = 50
	}

	order := "ASC"
	if desc {
		order = "DESC"
	}
	upper := to
	if upper.IsZero() {
		upper = time.Now().UTC().Add(time.Hour)
	}

	stmt := fmt.Sprintf(`SELECT id, asset_id, event_id, event_kind, prompt, thought, model,
			tokens_used, duration_ms, degraded, created_at
		FROM thoughts
		WHERE asset_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at %s
		LIMIT %d`, order, limit)

	rows, err := s.db.QueryContext(ctx, stmt, assetID,
		database.FormatTime(from), database.FormatTime(upper))
	if err != nil {
		return nil, models.NewStoreError("thought query failed", err)
	}
	defer rows.Close()

	var out []models.Thought
	for rows.Next() {
		var t models.Thought
		var kind, createdAt string
		if err := rows.Scan(&t.ID, &t.AssetID, &t.EventID, &kind, &t.Prompt, &t.Content,
			&t.Model, &t.TokensUsed, &t.DurationMS, &t.Degraded, &createdAt); err != nil {
			return nil, models.NewStoreError("thought scan failed", err)
		}
		t.EventKind = models.EventKind(kind)
		if ts, err := database.ParseTime(createdAt); err == nil {
			t.CreatedAt = ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneBefore deletes thoughts older than the cutoff. Retention is the
// only mutation the ledger ever performs after append.
func (s *LedgerService) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM thoughts WHERE created_at < ?`, database.FormatTime(cutoff))
	if err != nil {
		return 0, models.NewStoreError("thought prune failed", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("🧹 [LEDGER] Pruned %d thoughts older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}
