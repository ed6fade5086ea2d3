package pipeline

import (
	"regexp"
	"strings"

	"github.com/restward/restward/entity"
)

// Transformer consumes one stage result and produces the next. Transformers
// receive failures too and must pass them through (possibly remapped) rather
// than panic; this is what lets cleanup-style transformers rewrite network
// errors into user messages.
type Transformer interface {
	Apply(res entity.Result) entity.Result
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(entity.Result) entity.Result

func (f TransformerFunc) Apply(res entity.Result) entity.Result { return f(res) }

// conditionalTransformer is implemented by transformers that only act on
// certain declared content types. The pipeline consults it before Apply,
// using the response's declared content type even when the result is a
// failure.
type conditionalTransformer interface {
	appliesTo(contentType string) bool
}

// contentTypeGate wraps a transformer so it only runs for responses whose
// declared content type matches one of the configured patterns; otherwise
// the result passes through untouched.
type contentTypeGate struct {
	wrapped  Transformer
	patterns []*regexp.Regexp
}

// GatedTransformer restricts t to responses matching the given content-type
// patterns. A "*" wildcard matches within a "/"- or "+"-delimited segment,
// never across one: "application/*+json" matches "application/vnd.api+json"
// but "*" alone never matches "text/plain". Content-Type parameters such as
// "; charset=" are ignored for matching.
func GatedTransformer(t Transformer, contentTypes ...string) Transformer {
	g := &contentTypeGate{wrapped: t}
	for _, pattern := range contentTypes {
		g.patterns = append(g.patterns, compileContentTypePattern(pattern))
	}
	return g
}

func compileContentTypePattern(pattern string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(strings.ToLower(pattern))
	expr := strings.ReplaceAll(quoted, `\*`, `[^/+]+`)
	return regexp.MustCompile(`^` + expr + `$`)
}

func (g *contentTypeGate) appliesTo(contentType string) bool {
	// Strip any parameters a caller may have left on.
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, p := range g.patterns {
		if p.MatchString(contentType) {
			return true
		}
	}
	return false
}

func (g *contentTypeGate) Apply(res entity.Result) entity.Result {
	return g.wrapped.Apply(res)
}

// applyTransformer runs t against res, honoring content-type gating. The
// declared content type comes from the response, not the result, so gating
// works on failures too.
func applyTransformer(t Transformer, res entity.Result, contentType string) entity.Result {
	if cond, ok := t.(conditionalTransformer); ok && !cond.appliesTo(contentType) {
		return res
	}
	return t.Apply(res)
}
