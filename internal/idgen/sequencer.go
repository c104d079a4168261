package idgen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sequencer hands out increasing receipt sequence numbers per
// organization and year, starting at 1.
type Sequencer interface {
	Next(ctx context.Context, org string, year int) (int64, error)
}

// LocalSequencer keeps counters in process memory.
type LocalSequencer struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewLocalSequencer() *LocalSequencer {
	return &LocalSequencer{counters: make(map[string]int64)}
}

func (s *LocalSequencer) Next(_ context.Context, org string, year int) (int64, error) {
	key := fmt.Sprintf("%s:%d", org, year)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

// RedisSequencer shares counters between service instances with INCR.
type RedisSequencer struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSequencer keys counters as <prefix>:<org>:<year>. Counters expire
// a year after their last use so old periods do not pile up.
func NewRedisSequencer(client redis.UniversalClient, prefix string) *RedisSequencer {
	if prefix == "" {
		prefix = "recetra:seq"
	}
	return &RedisSequencer{client: client, prefix: prefix, ttl: 400 * 24 * time.Hour}
}

func (s *RedisSequencer) Next(ctx context.Context, org string, year int) (int64, error) {
	if s.client == nil {
		return 0, fmt.Errorf("redis sequencer: nil client")
	}
	key := fmt.Sprintf("%s:%s:%d", s.prefix, org, year)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis sequencer: %w", err)
	}
	return incr.Val(), nil
}
