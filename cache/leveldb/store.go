// Package leveldb is a persistent EntityCache backed by a LevelDB database.
// Suited to high-churn caches where a full SQL engine is overkill.
package leveldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	goleveldb "github.com/syndtr/goleveldb/leveldb"

	"github.com/restward/restward/cache"
	"github.com/restward/restward/entity"
	"github.com/restward/restward/pipeline"
)

// Cache stores entity envelopes keyed by resource URL.
type Cache struct {
	db *goleveldb.DB
}

// New opens (or creates) the cache database rooted at path.
func New(path string) (*Cache, error) {
	db, err := goleveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb cache at %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Key(target pipeline.CacheTarget) (string, bool) {
	return cache.DefaultKey(target)
}

func (c *Cache) Read(ctx context.Context, key string) (*entity.Entity, error) {
	raw, err := c.db.Get([]byte(key), nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	return cache.DecodeEntity(raw)
}

func (c *Cache) Write(ctx context.Context, ent *entity.Entity, key string) error {
	raw, err := cache.EncodeEntity(ent)
	if err != nil {
		return err
	}
	if err := c.db.Put([]byte(key), raw, nil); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// UpdateTimestamp rewrites the stored envelope with a fresh timestamp.
// LevelDB has no partial updates, so this is a read-modify-write.
func (c *Cache) UpdateTimestamp(ctx context.Context, ts time.Time, key string) error {
	ent, err := c.Read(ctx, key)
	if err != nil || ent == nil {
		return err
	}
	return c.Write(ctx, ent.WithTimestamp(ts), key)
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	if err := c.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

var _ pipeline.EntityCache = (*Cache)(nil)
