package services

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"apexwatch/internal/models"

	"github.com/fsnotify/fsnotify"
	gocache "github.com/patrickmn/go-cache"
	"gopkg.in/yaml.v3"
)

// yamlAsset is the on-disk shape of one asset entry. Durations are
// strings ("1h", "90s") so the file stays human-editable.
type yamlAsset struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name"`
	StalenessHorizon string            `yaml:"staleness_horizon"`
	EventTimeout     string            `yaml:"event_timeout"`
	RetryCeiling     int               `yaml:"retry_ceiling"`
	ContextTTL       string            `yaml:"context_ttl"`
	RefreshEndpoints map[string]string `yaml:"refresh_endpoints"`
	PriceChangePct   float64           `yaml:"price_change_threshold"`
	VolumeSpikePct   float64           `yaml:"volume_spike_threshold"`
	TransferAmount   float64           `yaml:"transfer_threshold"`
}

type assetsFile struct {
	Assets []yamlAsset `yaml:"assets"`
}

// AssetService owns the per-asset configurations. Settings live in a
// YAML file mutated by the admin API; a file watcher picks up external
// edits so new thresholds apply without a restart. The processing loop
// reads through a short-lived cache at processing time only.
type AssetService struct {
	path    string
	mu      sync.RWMutex
	configs map[string]models.AssetConfig
	cache   *gocache.Cache
	watcher *fsnotify.Watcher
}

// NewAssetService loads the assets file and starts watching it.
// A missing file is not an error; every asset then runs with defaults
// until configured.
func NewAssetService(path string) (*AssetService, error) {
	s := &AssetService{
		path:    path,
		configs: make(map[string]models.AssetConfig),
		cache:   gocache.New(30*time.Second, time.Minute),
	}

	if err := s.reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		log.Printf("⚠️ [ASSETS] %s not found, starting with defaults only", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️ [ASSETS] File watching unavailable, config reloads on write only: %v", err)
	} else {
		s.watcher = watcher
		if err := watcher.Add(path); err == nil {
			go s.watch()
			log.Printf("👀 [ASSETS] Watching %s for configuration changes", path)
		}
	}

	return s, nil
}

func (s *AssetService) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				if err := s.reload(); err != nil {
					log.Printf("⚠️ [ASSETS] Reload after file change failed: %v", err)
					continue
				}
				s.cache.Flush()
				log.Println("🔄 [ASSETS] Configuration reloaded from file")
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ [ASSETS] Watcher error: %v", err)
		}
	}
}

// reload reads the assets file into the in-memory map.
func (s *AssetService) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var parsed assetsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse assets file: %w", err)
	}

	configs := make(map[string]models.AssetConfig, len(parsed.Assets))
	for _, a := range parsed.Assets {
		cfg, err := a.toConfig()
		if err != nil {
			return fmt.Errorf("asset %q: %w", a.ID, err)
		}
		configs[cfg.ID] = cfg
	}

	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()
	return nil
}

func (a yamlAsset) toConfig() (models.AssetConfig, error) {
	cfg := models.AssetConfig{
		ID:                   a.ID,
		Name:                 a.Name,
		RetryCeiling:         a.RetryCeiling,
		PriceChangeThreshold: a.PriceChangePct,
		VolumeSpikeThreshold: a.VolumeSpikePct,
		TransferThreshold:    a.TransferAmount,
	}
	if cfg.ID == "" {
		return cfg, fmt.Errorf("missing id")
	}

	var err error
	if cfg.StalenessHorizon, err = parseDuration(a.StalenessHorizon); err != nil {
		return cfg, fmt.Errorf("staleness_horizon: %w", err)
	}
	if cfg.EventTimeout, err = parseDuration(a.EventTimeout); err != nil {
		return cfg, fmt.Errorf("event_timeout: %w", err)
	}
	if cfg.ContextTTL, err = parseDuration(a.ContextTTL); err != nil {
		return cfg, fmt.Errorf("context_ttl: %w", err)
	}

	if len(a.RefreshEndpoints) > 0 {
		cfg.RefreshEndpoints = make(map[models.SegmentKind]string, len(a.RefreshEndpoints))
		for k, v := range a.RefreshEndpoints {
			cfg.RefreshEndpoints[models.SegmentKind(k)] = v
		}
	}

	return cfg.WithDefaults(), nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Get returns the configuration for an asset, falling back to defaults
// for unknown assets.
func (s *AssetService) Get(assetID string) models.AssetConfig {
	if cached, ok := s.cache.Get(assetID); ok {
		return cached.(models.AssetConfig)
	}

	s.mu.RLock()
	cfg, ok := s.configs[assetID]
	s.mu.RUnlock()
	if !ok {
		cfg = models.DefaultAssetConfig(assetID)
	}

	s.cache.Set(assetID, cfg, gocache.DefaultExpiration)
	return cfg
}

// List returns all configured assets, sorted by ID.
func (s *AssetService) List() []models.AssetConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AssetConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update persists a changed asset configuration to the file and makes
// it visible to the next processing cycle.
func (s *AssetService) Update(cfg models.AssetConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("asset config missing id")
	}
	cfg = cfg.WithDefaults()

	s.mu.Lock()
	s.configs[cfg.ID] = cfg
	snapshot := make([]models.AssetConfig, 0, len(s.configs))
	for _, c := range s.configs {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	s.cache.Delete(cfg.ID)

	return s.writeFile(snapshot)
}

func (s *AssetService) writeFile(configs []models.AssetConfig) error {
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })

	out := assetsFile{Assets: make([]yamlAsset, 0, len(configs))}
	for _, cfg := range configs {
		a := yamlAsset{
			ID:               cfg.ID,
			Name:             cfg.Name,
			StalenessHorizon: cfg.StalenessHorizon.String(),
			EventTimeout:     cfg.EventTimeout.String(),
			RetryCeiling:     cfg.RetryCeiling,
			ContextTTL:       cfg.ContextTTL.String(),
			PriceChangePct:   cfg.PriceChangeThreshold,
			VolumeSpikePct:   cfg.VolumeSpikeThreshold,
			TransferAmount:   cfg.TransferThreshold,
		}
		if len(cfg.RefreshEndpoints) > 0 {
			a.RefreshEndpoints = make(map[string]string, len(cfg.RefreshEndpoints))
			for k, v := range cfg.RefreshEndpoints {
				a.RefreshEndpoints[string(k)] = v
			}
		}
		out.Assets = append(out.Assets, a)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal assets file: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write assets file: %w", err)
	}
	return nil
}

// Close stops the file watcher.
func (s *AssetService) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
