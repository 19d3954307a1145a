package services

import (
	"context"
	"log"
	"time"

	"apexwatch/internal/database"
	"apexwatch/internal/models"

	"github.com/google/uuid"
)

// AnalyticsService persists derived structured metrics to the
// relational store. Analytics are best-effort relative to the thought
// ledger: a failure here is logged and retried but never rolls back an
// already-acknowledged event.
type AnalyticsService struct {
	db *database.DB
}

// NewAnalyticsService creates the sink.
func NewAnalyticsService(db *database.DB) *AnalyticsService {
	return &AnalyticsService{db: db}
}

// Persist writes the processed-event log row and any metrics the event
// kind derives, in one transaction.
func (s *AnalyticsService) Persist(ctx context.Context, event models.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.NewStoreError("analytics tx begin failed", err)
	}
	defer tx.Rollback()

	now := database.FormatTime(time.Now())

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events_log (id, event_id, asset_id, event_kind, payload, processed, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), event.ID, event.AssetID, string(event.Kind), string(event.Payload), true, now); err != nil {
		return models.NewStoreError("events_log insert failed", err)
	}

	for name, value := range deriveMetrics(event) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO asset_metrics (id, asset_id, metric_name, metric_value, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), event.AssetID, name, value, now); err != nil {
			return models.NewStoreError("asset_metrics insert failed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.NewStoreError("analytics tx commit failed", err)
	}
	return nil
}

// deriveMetrics maps an event to the structured values worth tracking
// over time.
func deriveMetrics(event models.Event) map[string]float64 {
	payload, err := event.DecodePayload()
	if err != nil {
		return nil
	}

	switch p := payload.(type) {
	case models.PriceChangePayload:
		return map[string]float64{
			"price":        p.NewPrice,
			"price_change": p.ChangePercent,
		}
	case models.VolumeSpikePayload:
		return map[string]float64{
			"volume":       p.NewVolume,
			"volume_spike": p.IncreasePercent,
		}
	case models.WalletTransferPayload:
		return map[string]float64{
			"transfer_amount": p.Amount,
		}
	case models.NewsUpdatePayload:
		return map[string]float64{
			"news_sentiment": p.SentimentScore,
			"news_relevance": p.RelevanceScore,
		}
	default:
		return nil
	}
}

// RecordOutcome writes the per-event audit record. Dead-lettered and
// degraded cycles are flagged here for operator review.
func (s *AnalyticsService) RecordOutcome(ctx context.Context, o models.Outcome) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_outcomes
		 (id, event_id, asset_id, event_kind, success, attempts, error_class,
		  queue_wait_ms, processing_ms, degraded, dead_lettered, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), o.EventID, o.AssetID, string(o.EventKind), o.Success,
		o.Attempts, o.ErrorClass, o.QueueWaitMS, o.ProcessingMS, o.Degraded,
		o.DeadLettered, database.FormatTime(time.Now()))
	if err != nil {
		log.Printf("⚠️ [ANALYTICS] Failed to record outcome for event %s: %v", o.EventID, err)
	}
}

// MetricPoint is one sampled value of a derived metric.
type MetricPoint struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricSeries returns recent values of one metric for an asset, newest
// first, for the read-only dashboard API.
func (s *AnalyticsService) MetricSeries(ctx context.Context, assetID, metric string, limit int) ([]MetricPoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_value, created_at FROM asset_metrics
		 WHERE asset_id = ? AND metric_name = ?
		 ORDER BY created_at DESC LIMIT ?`, assetID, metric, limit)
	if err != nil {
		return nil, models.NewStoreError("metric query failed", err)
	}
	defer rows.Close()

	var out []MetricPoint
	for rows.Next() {
		var p MetricPoint
		var ts string
		if err := rows.Scan(&p.Value, &ts); err != nil {
			return nil, models.NewStoreError("metric scan failed", err)
		}
		if parsed, err := database.ParseTime(ts); err == nil {
			p.Timestamp = parsed
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
