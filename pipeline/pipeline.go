// Package pipeline turns raw transport responses into progressively richer
// entities through an ordered sequence of named stages, each holding zero or
// more content transformers and an optional persistent cache.
//
// Processing is split into two phases. The synchronous phase runs on the
// coordinating context that owns configuration state: it snapshots the stage
// list and derives per-request cache keys. The deferred phase is a closure
// safe to run on a worker: it folds the response through the snapshot,
// scheduling fire-and-forget cache writes after each successful stage.
//
// Reverse lookup (CachedEntity) scans stages from the output end toward
// rawData and replays only the stages after the first hit, so a cache at the
// model stage short-circuits parsing entirely.
package pipeline

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Pipeline is an ordered sequence of named stages. Only keys present in the
// order execute, regardless of whether a stage is configured for other keys.
type Pipeline struct {
	stages map[*StageKey]*Stage
	order  []*StageKey
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithLogger sets the logger used for cache faults and configuration
// warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithStandardTransformers wires the default content transformers: JSON and
// text decoding at the parsing stage and error-message extraction at
// cleanup. Default transformer policy is an explicit construction-time
// value, not ambient state, so tests can build isolated pipelines.
func WithStandardTransformers() Option {
	return func(p *Pipeline) {
		p.Stage(Parsing).AddForContentTypes(JSONTransformer(), "*/json", "*/*+json")
		p.Stage(Parsing).AddForContentTypes(TextTransformer(), "text/*")
		p.Stage(Cleanup).Add(ErrorMessageExtractor())
	}
}

// New builds a pipeline with the canonical stage order.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		stages: make(map[*StageKey]*Stage),
		order:  DefaultOrder(),
		logger: slog.Default(),
		tracer: otel.Tracer("restward/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Order returns a copy of the configured stage order.
func (p *Pipeline) Order() []*StageKey {
	out := make([]*StageKey, len(p.order))
	copy(out, p.order)
	return out
}

// SetOrder replaces the stage order. Duplicate keys are a programmer error
// and panic before any state changes. Configured, non-empty stages left out
// of the new order are logged as a warning; they simply stop executing.
func (p *Pipeline) SetOrder(keys ...*StageKey) {
	seen := make(map[*StageKey]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			panic("pipeline: duplicate stage key " + k.String() + " in order")
		}
		seen[k] = struct{}{}
	}
	for key, stage := range p.stages {
		if _, used := seen[key]; !used && !stage.isEmpty() {
			p.logger.Warn("pipeline stage configured but not in order; it will not run",
				slog.String("stage", key.String()))
		}
	}
	p.order = make([]*StageKey, len(keys))
	copy(p.order, keys)
}

// Stage returns the stage for key, creating an empty one on first access.
func (p *Pipeline) Stage(key *StageKey) *Stage {
	st, ok := p.stages[key]
	if !ok {
		st = &Stage{}
		p.stages[key] = st
	}
	return st
}

// SetStage replaces the stage configured for key.
func (p *Pipeline) SetStage(key *StageKey, st *Stage) {
	p.stages[key] = st
}

// RemoveAllTransformers drops every transformer from every stage, leaving
// cache bindings intact.
func (p *Pipeline) RemoveAllTransformers() {
	for _, st := range p.stages {
		st.RemoveTransformers()
	}
}

// RemoveAllCaches removes every stage's cache binding.
func (p *Pipeline) RemoveAllCaches() {
	for _, st := range p.stages {
		st.DoNotCache()
	}
}

// Clear removes all transformers and caches.
func (p *Pipeline) Clear() {
	p.RemoveAllTransformers()
	p.RemoveAllCaches()
}
