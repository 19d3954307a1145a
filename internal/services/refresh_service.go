package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"apexwatch/internal/models"

	"golang.org/x/time/rate"
)

// collectorPaths maps each segment kind to the read endpoint exposed by
// its owning collector service.
var collectorPaths = map[models.SegmentKind]string{
	models.SegmentMarket: "/api/market/latest/%s",
	models.SegmentNews:   "/api/news/recent/%s",
	models.SegmentWallet: "/api/wallets/summary/%s",
}

// refreshResponse is the collector's reply to a synchronous pull.
type refreshResponse struct {
	Content string    `json:"content"`
	AsOf    time.Time `json:"as_of_timestamp"`
}

// RefreshService decides whether cached context segments are fresh
// enough to use and, when they are not, pulls replacements from the
// owning collector. Refresh failure never fails the event: the caller
// proceeds with the stale segment and the thought is flagged degraded.
type RefreshService struct {
	client    *http.Client
	accessKey string
	limiter   *rate.Limiter
}

// NewRefreshService creates a resolver. The timeout must stay short:
// the sequential loop blocks on every pull.
func NewRefreshService(accessKey string, timeout time.Duration) *RefreshService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RefreshService{
		client:    &http.Client{Timeout: timeout},
		accessKey: accessKey,
		// Collectors are small services; cap pulls so a burst of stale
		// segments does not hammer them.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// IsStale reports whether the segment of the given kind needs a refresh
// before use: absent, or older than the asset's staleness horizon.
func (s *RefreshService) IsStale(c models.Context, kind models.SegmentKind, cfg models.AssetConfig, now time.Time) bool {
	i := c.SegmentIndex(kind)
	if i < 0 {
		return true
	}
	return now.Sub(c.Segments[i].RefreshedAt) > cfg.StalenessHorizon
}

// Resolve refreshes the segment relevant to the event when stale.
// Returns the (possibly updated) context and degraded=true when a
// needed refresh could not be completed.
func (s *RefreshService) Resolve(ctx context.Context, c models.Context, cfg models.AssetConfig, kind models.EventKind, now time.Time) (models.Context, bool) {
	segKind := kind.SegmentKind()
	if !s.IsStale(c, segKind, cfg, now) {
		return c, false
	}

	endpoint, ok := cfg.RefreshEndpoints[segKind]
	if !ok || endpoint == "" {
		// No collector configured for this segment. Proceed with what
		// we have; absent segments make this a degraded generation.
		return c, c.SegmentIndex(segKind) < 0
	}

	content, asOf, err := s.pull(ctx, endpoint, segKind, c.AssetID)
	if err != nil {
		log.Printf("⚠️ [REFRESH] %s segment pull failed for %s, proceeding stale: %v", segKind, c.AssetID, err)
		return c, true
	}

	return c.SetSegment(segKind, content, asOf), false
}

// pull issues the synchronous read request to the collector.
func (s *RefreshService) pull(ctx context.Context, baseURL string, kind models.SegmentKind, assetID string) (string, time.Time, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", time.Time{}, err
	}

	path, ok := collectorPaths[kind]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no collector path for segment kind %q", kind)
	}
	url := baseURL + fmt.Sprintf(path, assetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("X-Access-Key", s.accessKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", time.Time{}, models.NewRefreshError("collector unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, models.NewRefreshError("collector response unreadable", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, models.NewRefreshError(
			fmt.Sprintf("collector returned %d", resp.StatusCode), nil)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Content == "" {
		// Collectors that predate the envelope return bare JSON; keep
		// it verbatim as segment content.
		return string(body), time.Now().UTC(), nil
	}
	if parsed.AsOf.IsZero() {
		parsed.AsOf = time.Now().UTC()
	}

	return parsed.Content, parsed.AsOf, nil
}
