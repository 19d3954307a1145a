package models

import "time"

// Default asset configuration values, applied when the assets file
// leaves a field unset.
const (
	DefaultStalenessHorizon = time.Hour
	DefaultEventTimeout     = 3 * time.Minute
	DefaultRetryCeiling     = 5
	DefaultContextTTL       = 24 * time.Hour
)

// AssetConfig holds the static/semi-static settings for one monitored
// asset. The processing loop only reads these; mutation happens through
// the admin API or by editing the assets file, both picked up live.
type AssetConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	// StalenessHorizon is the age beyond which a context segment must
	// be refreshed from its owning collector before use.
	StalenessHorizon time.Duration `yaml:"staleness_horizon" json:"staleness_horizon"`

	// EventTimeout bounds a full processing cycle for one event.
	EventTimeout time.Duration `yaml:"event_timeout" json:"event_timeout"`

	// RetryCeiling is the number of delivery attempts before an event
	// is routed to the dead-letter stream.
	RetryCeiling int `yaml:"retry_ceiling" json:"retry_ceiling"`

	// ContextTTL is how long a saved context stays valid in the store.
	ContextTTL time.Duration `yaml:"context_ttl" json:"context_ttl"`

	// Collector refresh endpoints per segment kind. Empty means the
	// resolver skips refresh for that segment.
	RefreshEndpoints map[SegmentKind]string `yaml:"refresh_endpoints" json:"refresh_endpoints"`

	// Collector alert thresholds, exposed to the admin API and pushed
	// down to collectors out of band.
	PriceChangeThreshold float64 `yaml:"price_change_threshold" json:"price_change_threshold"`
	VolumeSpikeThreshold float64 `yaml:"volume_spike_threshold" json:"volume_spike_threshold"`
	TransferThreshold    float64 `yaml:"transfer_threshold" json:"transfer_threshold"`
}

// WithDefaults fills unset fields with engine defaults.
func (a AssetConfig) WithDefaults() AssetConfig {
	if a.StalenessHorizon <= 0 {
		a.StalenessHorizon = DefaultStalenessHorizon
	}
	if a.EventTimeout <= 0 {
		a.EventTimeout = DefaultEventTimeout
	}
	if a.RetryCeiling <= 0 {
		a.RetryCeiling = DefaultRetryCeiling
	}
	if a.ContextTTL <= 0 {
		a.ContextTTL = DefaultContextTTL
	}
	return a
}

// DefaultAssetConfig returns the configuration used for assets that
// have no entry in the assets file. Events for unknown assets are
// still processed; they just run with defaults and no refresh
// endpoints.
func DefaultAssetConfig(assetID string) AssetConfig {
	return AssetConfig{ID: assetID, Name: assetID}.WithDefaults()
}
