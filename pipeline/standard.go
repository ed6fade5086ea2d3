package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/restward/restward/entity"
)

// JSONTransformer decodes []byte content into the generic JSON value tree.
// Non-byte content and failures pass through untouched; gate it on "*/json"
// and "*/*+json" when wiring.
func JSONTransformer() Transformer {
	return TransformerFunc(func(res entity.Result) entity.Result {
		if !res.OK() {
			return res
		}
		raw, ok := res.Entity.Content.([]byte)
		if !ok {
			return res
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return entity.Failure(entity.FromCause(fmt.Errorf("decode JSON: %w", err)))
		}
		return entity.Success(res.Entity.WithContent(decoded))
	})
}

// TextTransformer decodes []byte content into a string, honoring the
// entity's declared charset. Unknown charsets fail the result.
func TextTransformer() Transformer {
	return TransformerFunc(func(res entity.Result) entity.Result {
		if !res.OK() {
			return res
		}
		raw, ok := res.Entity.Content.([]byte)
		if !ok {
			return res
		}
		text, err := decodeText(raw, res.Entity.Charset)
		if err != nil {
			return entity.Failure(entity.FromCause(err))
		}
		return entity.Success(res.Entity.WithContent(text))
	})
}

func decodeText(raw []byte, charset string) (string, error) {
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return string(raw), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(raw)))
	if err != nil {
		return "", fmt.Errorf("decode %s text: %w", charset, err)
	}
	return string(decoded), nil
}

// ErrorMessageExtractor rewrites failures whose attached entity carries a
// JSON object with a message field, surfacing the server's wording as the
// user-facing message. Successes pass through untouched.
func ErrorMessageExtractor() Transformer {
	return TransformerFunc(func(res entity.Result) entity.Result {
		if res.OK() || res.Err.Entity == nil {
			return res
		}
		content := res.Err.Entity.Content
		if raw, isBytes := content.([]byte); isBytes {
			var decoded any
			if json.Unmarshal(raw, &decoded) != nil {
				return res
			}
			content = decoded
		}
		obj, ok := content.(map[string]any)
		if !ok {
			return res
		}
		for _, field := range []string{"message", "error", "detail"} {
			if msg, ok := obj[field].(string); ok && msg != "" {
				return entity.Failure(res.Err.WithMessage(msg))
			}
		}
		return res
	})
}
