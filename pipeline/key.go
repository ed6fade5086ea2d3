package pipeline

// StageKey identifies a stage within a pipeline's order. Identity is pointer
// identity; the label is cosmetic and only appears in logs. Callers may mint
// additional keys with NewStageKey and splice them into the order.
type StageKey struct {
	label string
}

// NewStageKey mints a fresh stage key with a human-readable label.
func NewStageKey(label string) *StageKey {
	return &StageKey{label: label}
}

func (k *StageKey) String() string { return k.label }

// The default stage keys, in canonical order.
var (
	// RawData holds the response exactly as the transport produced it.
	RawData = NewStageKey("rawData")

	// Decoding turns raw bytes into a decoded representation.
	Decoding = NewStageKey("decoding")

	// Parsing turns decoded content into structured values.
	Parsing = NewStageKey("parsing")

	// Model turns structured values into application model objects.
	Model = NewStageKey("model")

	// Cleanup is the last stop: error rewriting, final touches.
	Cleanup = NewStageKey("cleanup")
)

// DefaultOrder returns the canonical stage order.
func DefaultOrder() []*StageKey {
	return []*StageKey{RawData, Decoding, Parsing, Model, Cleanup}
}
