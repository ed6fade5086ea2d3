package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/restward/restward/entity"
)

// stageSnapshot is one stage frozen for a single pipeline run: its
// transformer list and, when the stage has a cache that can derive a key for
// the target, the resolved binding.
type stageSnapshot struct {
	key          *StageKey
	transformers []Transformer
	binding      *cacheBinding
}

// snapshot freezes the configured order's stages and derives cache keys for
// the target. Must run on the coordinating context: key derivation may
// consult resource identity, and the stage list must not race configuration
// changes.
func (p *Pipeline) snapshot(target CacheTarget) []stageSnapshot {
	snaps := make([]stageSnapshot, 0, len(p.order))
	for _, key := range p.order {
		st, ok := p.stages[key]
		if !ok {
			continue
		}
		snap := stageSnapshot{key: key}
		if len(st.transformers) > 0 {
			snap.transformers = make([]Transformer, len(st.transformers))
			copy(snap.transformers, st.transformers)
		}
		if st.cache != nil {
			if cacheKey, ok := st.cache.Key(target); ok {
				snap.binding = &cacheBinding{cache: st.cache, key: cacheKey}
			}
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

func (s *stageSnapshot) apply(res entity.Result, contentType string) entity.Result {
	for _, t := range s.transformers {
		res = applyTransformer(t, res, contentType)
	}
	return res
}

// scheduleWrite persists ent to the binding's cache on its own goroutine.
// Writes are fire-and-forget: they never block the result and their failures
// are logged, not surfaced.
func (b *cacheBinding) scheduleWrite(ctx context.Context, ent *entity.Entity, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := b.cache.Write(ctx, ent, b.key); err != nil {
			logger.Warn("cache write failed",
				slog.String("key", b.key),
				slog.String("error", err.Error()))
		}
	}()
}

// Process returns the deferred operation that folds input through every
// stage in order, left to right. The stage list and cache bindings are
// snapshotted synchronously before Process returns; the returned closure is
// safe to run on a worker. contentType is the response's declared media
// type, consulted for transformer gating even when input is a failure.
func (p *Pipeline) Process(input entity.Result, contentType string, target CacheTarget) func(context.Context) entity.Result {
	snaps := p.snapshot(target)
	logger := p.logger
	tracer := p.tracer
	return func(ctx context.Context) entity.Result {
		ctx, span := tracer.Start(ctx, "pipeline.process",
			trace.WithAttributes(attribute.String("content_type", contentType)))
		defer span.End()

		res := input
		for i := range snaps {
			res = snaps[i].apply(res, contentType)
			if res.OK() && snaps[i].binding != nil {
				snaps[i].binding.scheduleWrite(ctx, res.Entity, logger)
			}
		}
		return res
	}
}

// CachedEntity returns the deferred reverse lookup: scanning stages from the
// output end toward rawData, read the first cached entity and replay only
// the stages strictly after the hit. A replay failure discards the hit and
// the scan continues toward less-processed stages; a read fault degrades to
// a miss. No hit anywhere yields (nil, false), never an error.
func (p *Pipeline) CachedEntity(target CacheTarget) func(context.Context) (*entity.Entity, bool) {
	snaps := p.snapshot(target)
	logger := p.logger
	tracer := p.tracer
	return func(ctx context.Context) (*entity.Entity, bool) {
		ctx, span := tracer.Start(ctx, "pipeline.cached_entity")
		defer span.End()

		for i := len(snaps) - 1; i >= 0; i-- {
			b := snaps[i].binding
			if b == nil {
				continue
			}
			ent, err := b.cache.Read(ctx, b.key)
			if err != nil {
				logger.Warn("cache read failed, treating as miss",
					slog.String("stage", snaps[i].key.String()),
					slog.String("error", err.Error()))
				continue
			}
			if ent == nil {
				continue
			}

			res := entity.Success(ent)
			for j := i + 1; j < len(snaps); j++ {
				res = snaps[j].apply(res, ent.ContentType)
				if res.OK() && snaps[j].binding != nil {
					snaps[j].binding.scheduleWrite(ctx, res.Entity, logger)
				}
			}
			if !res.OK() {
				logger.Warn("cached entity failed replay, discarding hit",
					slog.String("stage", snaps[i].key.String()),
					slog.String("error", res.Err.Error()))
				continue
			}
			return res.Entity, true
		}
		return nil, false
	}
}

// UpdateCacheEntryTimestamps refreshes the persisted timestamp at every
// resolvable cache binding, best effort and unordered. There is no return
// channel: individual backend failures are logged only.
func (p *Pipeline) UpdateCacheEntryTimestamps(ts time.Time, target CacheTarget) {
	logger := p.logger
	for _, snap := range p.snapshot(target) {
		if snap.binding == nil {
			continue
		}
		b := snap.binding
		go func() {
			if err := b.cache.UpdateTimestamp(context.Background(), ts, b.key); err != nil {
				logger.Warn("cache timestamp update failed",
					slog.String("key", b.key),
					slog.String("error", err.Error()))
			}
		}()
	}
}

// RemoveCacheEntries purges every resolvable cache entry for the target,
// best effort and unordered.
func (p *Pipeline) RemoveCacheEntries(target CacheTarget) {
	logger := p.logger
	for _, snap := range p.snapshot(target) {
		if snap.binding == nil {
			continue
		}
		b := snap.binding
		go func() {
			if err := b.cache.Remove(context.Background(), b.key); err != nil {
				logger.Warn("cache entry removal failed",
					slog.String("key", b.key),
					slog.String("error", err.Error()))
			}
		}()
	}
}
