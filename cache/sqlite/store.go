// Package sqlite is a persistent EntityCache backed by a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/restward/restward/cache"
	"github.com/restward/restward/entity"
	"github.com/restward/restward/pipeline"
)

// Cache stores entity envelopes in a single entities table. The stored
// timestamp lives in its own column so revalidation can refresh it without
// rewriting content.
type Cache struct {
	db *sql.DB
}

// New opens (or creates) the cache database at dbPath.
func New(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	c := &Cache{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS entities (
		key TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	return err
}

func (c *Cache) Key(target pipeline.CacheTarget) (string, bool) {
	return cache.DefaultKey(target)
}

func (c *Cache) Read(ctx context.Context, key string) (*entity.Entity, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT record, updated_at FROM entities WHERE key = ?", key,
	).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	ent, err := cache.DecodeEntity(raw)
	if err != nil {
		return nil, err
	}
	// The column is authoritative: UpdateTimestamp only touches it.
	return ent.WithTimestamp(updatedAt), nil
}

func (c *Cache) Write(ctx context.Context, ent *entity.Entity, key string) error {
	raw, err := cache.EncodeEntity(ent)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO entities (key, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		key, raw, ent.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (c *Cache) UpdateTimestamp(ctx context.Context, ts time.Time, key string) error {
	_, err := c.db.ExecContext(ctx,
		"UPDATE entities SET updated_at = ? WHERE key = ?", ts.UTC(), key)
	if err != nil {
		return fmt.Errorf("update cache timestamp: %w", err)
	}
	return nil
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM entities WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

var _ pipeline.EntityCache = (*Cache)(nil)
