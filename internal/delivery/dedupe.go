package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const notifiedPrefix = "reel:notified:"

// RedisDeduper keeps one SETNX marker per notified job.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisDeduper keeps markers for ttl, which should outlive any retry of
// the job.
func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) Acquire(ctx context.Context, jobID string) (bool, error) {
	return d.rdb.SetNX(ctx, notifiedPrefix+jobID, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, jobID string) error {
	return d.rdb.Del(ctx, notifiedPrefix+jobID).Err()
}

// MemoryDeduper is the single-process variant.
type MemoryDeduper struct {
	mu   sync.Mutex
	sent map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{sent: make(map[string]struct{})}
}

func (d *MemoryDeduper) Acquire(ctx context.Context, jobID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sent[jobID]; ok {
		return false, nil
	}
	d.sent[jobID] = struct{}{}
	return true, nil
}

func (d *MemoryDeduper) Release(ctx context.Context, jobID string) error {
	d.mu.Lock()
	delete(d.sent, jobID)
	d.mu.Unlock()
	return nil
}
