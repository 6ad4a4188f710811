package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/e2jk/trello-team-sync/domain"
)

type backend interface {
	GetMapping(ctx context.Context, id string) (*domain.Mapping, error)
	UpsertMapping(ctx context.Context, m domain.Mapping) error
}

// Cache wraps a Storage instance with Redis-backed caching for mapping
// reads. Mappings change rarely compared to how often runs and webhook
// events read them.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis
// client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	c := &Cache{base: base, redis: client, ttl: ttl}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) GetMapping(ctx context.Context, id string) (*domain.Mapping, error) {
	if m, ok := c.loadMappingFromCache(ctx, id); ok {
		return m, nil
	}
	m, err := c.base.GetMapping(ctx, id)
	if err != nil {
		return nil, err
	}
	if m != nil {
		c.storeMapping(ctx, *m)
	}
	return m, nil
}

func (c *Cache) UpsertMapping(ctx context.Context, m domain.Mapping) error {
	if err := c.base.UpsertMapping(ctx, m); err != nil {
		return err
	}
	c.evict(ctx, m.ID)
	return nil
}

func (c *Cache) loadMappingFromCache(ctx context.Context, id string) (*domain.Mapping, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, mappingCacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, mappingCacheKey(id)).Err()
		}
		return nil, false
	}
	var m domain.Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		_ = c.redis.Del(ctx, mappingCacheKey(id)).Err()
		return nil, false
	}
	return &m, true
}

func (c *Cache) storeMapping(ctx context.Context, m domain.Mapping) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, mappingCacheKey(m.ID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, id string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, mappingCacheKey(id)).Result()
}

func mappingCacheKey(id string) string {
	return "mapping:" + id
}
