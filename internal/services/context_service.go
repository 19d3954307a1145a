package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"apexwatch/internal/models"

	"github.com/redis/go-redis/v9"
)

const contextKeyPrefix = "context:"

// ContextService is the keyed, TTL-aware store of per-asset rolling
// context. Only the sequential processing loop writes through it, so
// the store needs no locking of its own.
type ContextService struct {
	redis *RedisService
}

// NewContextService creates a new context store backed by Redis.
func NewContextService(redisService *RedisService) *ContextService {
	return &ContextService{redis: redisService}
}

// Load fetches the current context for an asset. An expired or missing
// entry reports found=false. Store unreachability also reports
// found=false so the caller can continue with an empty context in
// degraded mode rather than stall; the error is returned alongside for
// the audit record.
func (s *ContextService) Load(ctx context.Context, assetID string) (models.Context, bool, error) {
	raw, err := s.redis.Get(ctx, contextKeyPrefix+assetID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.EmptyContext(assetID), false, nil
		}
		log.Printf("⚠️ [CONTEXT] Store unreachable for %s, degrading to empty context: %v", assetID, err)
		return models.EmptyContext(assetID), false, models.NewStoreError("context load failed", err)
	}

	var c models.Context
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		// A corrupt entry is unrecoverable; start the asset over
		// rather than poison every future event for it.
		log.Printf("⚠️ [CONTEXT] Corrupt context for %s, resetting: %v", assetID, err)
		return models.EmptyContext(assetID), false, nil
	}

	return c, true, nil
}

// Save persists the context with the configured TTL. Entries older
// than the TTL are treated as absent on load, which bounds how stale a
// context can ever get.
func (s *ContextService) Save(ctx context.Context, c models.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = models.DefaultContextTTL
	}

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("context not encodable: %w", err)
	}

	if err := s.redis.Set(ctx, contextKeyPrefix+c.AssetID, string(body), ttl); err != nil {
		return models.NewStoreError("context save failed", err)
	}
	return nil
}
