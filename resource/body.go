package resource

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Body describes a request payload. Encoding happens synchronously at
// issuance: an unencodable body fails the Request immediately, before any
// network attempt.
type Body interface {
	payload() (data []byte, contentType string, err error)
}

type jsonBody struct{ value any }

// JSONBody encodes value as JSON with content type application/json.
func JSONBody(value any) Body { return jsonBody{value: value} }

func (b jsonBody) payload() ([]byte, string, error) {
	data, err := json.Marshal(b.value)
	if err != nil {
		return nil, "", fmt.Errorf("encode JSON body: %w", err)
	}
	return data, "application/json", nil
}

type textBody struct {
	text    string
	charset string
}

// TextBody encodes text as text/plain in the given charset. An empty
// charset means UTF-8.
func TextBody(text, charset string) Body { return textBody{text: text, charset: charset} }

func (b textBody) payload() ([]byte, string, error) {
	if b.charset == "" || strings.EqualFold(b.charset, "utf-8") {
		return []byte(b.text), "text/plain; charset=utf-8", nil
	}
	enc, err := htmlindex.Get(b.charset)
	if err != nil {
		return nil, "", fmt.Errorf("unsupported charset %q: %w", b.charset, err)
	}
	data, err := enc.NewEncoder().Bytes([]byte(b.text))
	if err != nil {
		return nil, "", fmt.Errorf("encode %s text body: %w", b.charset, err)
	}
	return data, "text/plain; charset=" + strings.ToLower(b.charset), nil
}

type rawBody struct {
	data        []byte
	contentType string
}

// RawBody sends data as-is with the given content type.
func RawBody(data []byte, contentType string) Body {
	return rawBody{data: data, contentType: contentType}
}

func (b rawBody) payload() ([]byte, string, error) {
	return b.data, b.contentType, nil
}
