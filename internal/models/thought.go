package models

import "time"

// Thought is the immutable analytical output of one processing cycle.
// Exactly one thought exists per successfully processed event; the
// ledger enforces uniqueness on EventID so at-least-once redelivery
// never produces duplicates.
type Thought struct {
	ID         string    `json:"id"`
	AssetID    string    `json:"asset_id"`
	EventID    string    `json:"event_id"`
	EventKind  EventKind `json:"event_kind"`
	Prompt     string    `json:"prompt"`
	Content    string    `json:"content"`
	Model      string    `json:"model"`
	TokensUsed int       `json:"tokens_used"`
	DurationMS int64     `json:"duration_ms"`
	Degraded   bool      `json:"degraded"`
	CreatedAt  time.Time `json:"created_at"`
}

// Outcome is the per-event audit record used for observability and
// poison-event detection.
type Outcome struct {
	EventID      string    `json:"event_id"`
	AssetID      string    `json:"asset_id"`
	EventKind    EventKind `json:"event_kind"`
	Success      bool      `json:"success"`
	Attempts     int       `json:"attempts"`
	ErrorClass   string    `json:"error_class,omitempty"`
	QueueWaitMS  int64     `json:"queue_wait_ms"`
	ProcessingMS int64     `json:"processing_ms"`
	Degraded     bool      `json:"degraded"`
	DeadLettered bool      `json:"dead_lettered"`
	RecordedAt   time.Time `json:"recorded_at"`
}
