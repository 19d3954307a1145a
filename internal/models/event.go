package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the signal type emitted by a collector service.
type EventKind string

const (
	EventWalletTransfer EventKind = "wallet_transfer"
	EventPriceChange    EventKind = "price_change"
	EventVolumeSpike    EventKind = "volume_spike"
	EventNewsUpdate     EventKind = "news_update"
)

// IsValid reports whether the kind is one of the known collector signals.
func (k EventKind) IsValid() bool {
	switch k {
	case EventWalletTransfer, EventPriceChange, EventVolumeSpike, EventNewsUpdate:
		return true
	}
	return false
}

// Event is the unit of work flowing through the engine. Immutable once
// enqueued; Attempts reports delivery attempts where the envelope is
// surfaced (dead-letter entries, audit records).
type Event struct {
	ID        string          `json:"id"`
	AssetID   string          `json:"asset_id"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Attempts  int             `json:"attempts"`
}

// WalletTransferPayload describes a large on-chain transfer.
type WalletTransferPayload struct {
	FromAddress string  `json:"from_address"`
	ToAddress   string  `json:"to_address"`
	Amount      float64 `json:"amount"`
	TxHash      string  `json:"tx_hash"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

// PriceChangePayload describes a significant price move on an exchange.
type PriceChangePayload struct {
	Exchange      string  `json:"exchange"`
	OldPrice      float64 `json:"old_price"`
	NewPrice      float64 `json:"new_price"`
	ChangePercent float64 `json:"change_percent"`
	Volume        float64 `json:"volume,omitempty"`
}

// VolumeSpikePayload describes an abnormal jump in traded volume.
type VolumeSpikePayload struct {
	Exchange        string  `json:"exchange"`
	OldVolume       float64 `json:"old_volume"`
	NewVolume       float64 `json:"new_volume"`
	IncreasePercent float64 `json:"increase_percent"`
}

// NewsUpdatePayload describes a relevant news article.
type NewsUpdatePayload struct {
	Title          string  `json:"title"`
	Source         string  `json:"source"`
	Summary        string  `json:"summary"`
	URL            string  `json:"url,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
	SentimentScore float64 `json:"sentiment_score"`
}

// NewEvent builds an event envelope with a fresh ID and arrival timestamp.
func NewEvent(assetID string, kind EventKind, payload json.RawMessage) Event {
	return Event{
		ID:        uuid.New().String(),
		AssetID:   assetID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks the envelope for fields retrying can never fix.
// Failures are classified as validation errors so the loop dead-letters
// the event immediately instead of retrying it.
func (e Event) Validate() error {
	if e.ID == "" {
		return NewValidationError("event missing id")
	}
	if e.AssetID == "" {
		return NewValidationError("event missing asset_id")
	}
	if !e.Kind.IsValid() {
		return NewValidationError(fmt.Sprintf("unknown event kind %q", e.Kind))
	}
	if len(e.Payload) == 0 {
		return NewValidationError("event missing payload")
	}
	if _, err := e.DecodePayload(); err != nil {
		return NewValidationError(fmt.Sprintf("malformed %s payload: %v", e.Kind, err))
	}
	return nil
}

// DecodePayload unmarshals the raw payload into the kind-specific struct.
// The switch is exhaustive over EventKind; new kinds must be added here
// and in the prompt renderer together.
func (e Event) DecodePayload() (interface{}, error) {
	switch e.Kind {
	case EventWalletTransfer:
		var p WalletTransferPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventPriceChange:
		var p PriceChangePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventVolumeSpike:
		var p VolumeSpikePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventNewsUpdate:
		var p NewsUpdatePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// SegmentKind maps the event kind to the context segment it feeds.
func (k EventKind) SegmentKind() SegmentKind {
	switch k {
	case EventWalletTransfer:
		return SegmentWallet
	case EventPriceChange, EventVolumeSpike:
		return SegmentMarket
	case EventNewsUpdate:
		return SegmentNews
	default:
		return SegmentMarket
	}
}
