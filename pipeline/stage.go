package pipeline

// Stage is one named step of a pipeline: an ordered list of transformers
// plus an optional cache binding. Stages are configuration state owned by
// the coordinating context; mutate them only from there (see Service's
// configuration hooks).
type Stage struct {
	transformers []Transformer
	cache        EntityCache
}

// Add appends a transformer to the stage.
func (s *Stage) Add(t Transformer) {
	s.transformers = append(s.transformers, t)
}

// AddForContentTypes appends a transformer gated to the given content-type
// patterns. See GatedTransformer for pattern semantics.
func (s *Stage) AddForContentTypes(t Transformer, contentTypes ...string) {
	s.Add(GatedTransformer(t, contentTypes...))
}

// RemoveTransformers drops every transformer from the stage, leaving any
// cache binding in place.
func (s *Stage) RemoveTransformers() {
	s.transformers = nil
}

// CacheUsing binds a cache to the stage. Successful output of this stage is
// written to the cache, and reverse lookups may read from it.
func (s *Stage) CacheUsing(c EntityCache) {
	s.cache = c
}

// DoNotCache removes the stage's cache binding.
func (s *Stage) DoNotCache() {
	s.cache = nil
}

// isEmpty reports whether the stage has neither transformers nor a cache.
// Emptiness only informs the unused-stage warning; empty stages in the
// order still execute (as no-ops).
func (s *Stage) isEmpty() bool {
	return len(s.transformers) == 0 && s.cache == nil
}
