// Package cache keeps verification summaries in Redis so repeated QR scans
// of the same receipt do not hit the receipt store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/markjakearzadon/recetra-gobackend/internal/models"
)

// SummaryCache maps verification tokens to receipt summaries.
type SummaryCache interface {
	// Get reports a miss with ok=false and a nil error.
	Get(ctx context.Context, token string) (summary models.ReceiptSummary, ok bool, err error)
	Set(ctx context.Context, token string, summary models.ReceiptSummary) error
	Delete(ctx context.Context, token string) error
}

// Key formats a cache key for a verification token.
func Key(token string) string {
	return fmt.Sprintf("recetra:verify:v1:%s", token)
}

type RedisSummaryCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisSummaryCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisSummaryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisSummaryCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisSummaryCache) Get(ctx context.Context, token string) (models.ReceiptSummary, bool, error) {
	data, err := c.client.Get(ctx, Key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ReceiptSummary{}, false, nil
	}
	if err != nil {
		return models.ReceiptSummary{}, false, fmt.Errorf("cache get: %w", err)
	}
	var s models.ReceiptSummary
	if err := json.Unmarshal(data, &s); err != nil {
		c.logger.Warn("dropping undecodable cache entry", zap.String("key", Key(token)), zap.Error(err))
		_ = c.client.Del(ctx, Key(token)).Err()
		return models.ReceiptSummary{}, false, nil
	}
	return s, true, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, token string, summary models.ReceiptSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return c.client.Set(ctx, Key(token), data, c.ttl).Err()
}

func (c *RedisSummaryCache) Delete(ctx context.Context, token string) error {
	return c.client.Del(ctx, Key(token)).Err()
}
