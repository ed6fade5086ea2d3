package pipeline

import (
	"context"
	"net/url"
	"time"

	"github.com/restward/restward/entity"
)

// CacheTarget is the resource identity visible to cache key derivation.
// Key derivation runs on the coordinating context, so implementations may
// consult configuration without extra locking.
type CacheTarget interface {
	URL() *url.URL
}

// EntityCache is the persistence capability a stage can bind. Implementations
// decide their own key and serialization formats; the pipeline only moves
// entities in and out. A broken cache must degrade to a miss, never crash a
// load: read faults are logged and swallowed by the pipeline.
type EntityCache interface {
	// Key derives the cache key for a target resource. ok=false means this
	// cache holds nothing for the target, and the stage is skipped for
	// caching purposes. Not an error.
	Key(target CacheTarget) (key string, ok bool)

	// Read returns the cached entity for key, or (nil, nil) on a miss.
	Read(ctx context.Context, key string) (*entity.Entity, error)

	// Write stores the entity under key, replacing any previous value.
	Write(ctx context.Context, ent *entity.Entity, key string) error

	// UpdateTimestamp refreshes the stored entity's timestamp without
	// rewriting its content, e.g. after a successful revalidation.
	UpdateTimestamp(ctx context.Context, ts time.Time, key string) error

	// Remove deletes the entry for key.
	Remove(ctx context.Context, key string) error
}

// cacheBinding is the ephemeral, per-request pairing of a stage's cache with
// the key derived for the target resource. Bindings are built on the
// coordinating context and handed to workers as immutable values.
type cacheBinding struct {
	cache EntityCache
	key   string
}
