// Package memory is an in-memory, size-bounded EntityCache backed by an LRU.
// Entities are held directly, no serialization involved, so it caches
// arbitrary content at any stage.
package memory

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/restward/restward/cache"
	"github.com/restward/restward/entity"
	"github.com/restward/restward/pipeline"
)

// Cache is an LRU-bounded in-memory entity cache.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, *entity.Entity]
}

// New creates a cache bounded to size entries.
func New(size int) (*Cache, error) {
	l, err := lru.New[string, *entity.Entity](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

func (c *Cache) Key(target pipeline.CacheTarget) (string, bool) {
	return cache.DefaultKey(target)
}

func (c *Cache) Read(ctx context.Context, key string) (*entity.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.lru.Get(key)
	if !ok {
		return nil, nil
	}
	return ent, nil
}

func (c *Cache) Write(ctx context.Context, ent *entity.Entity, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, ent)
	return nil
}

func (c *Cache) UpdateTimestamp(ctx context.Context, ts time.Time, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.lru.Get(key)
	if !ok {
		return nil
	}
	c.lru.Add(key, ent.WithTimestamp(ts))
	return nil
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

var _ pipeline.EntityCache = (*Cache)(nil)
