// Package cache provides the serialization envelope shared by the bundled
// EntityCache implementations, plus the default key derivation. The pipeline
// itself prescribes no format; this one belongs to the adapters under
// cache/.
package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/restward/restward/entity"
	"github.com/restward/restward/pipeline"
)

// Content kinds stored in the envelope.
const (
	kindBytes = "bytes"
	kindText  = "text"
	kindJSON  = "json"
)

type record struct {
	Kind        string          `json:"kind"`
	Bytes       []byte          `json:"bytes,omitempty"`
	Text        string          `json:"text,omitempty"`
	JSON        json.RawMessage `json:"json,omitempty"`
	ContentType string          `json:"content_type"`
	Charset     string          `json:"charset,omitempty"`
	ETag        string          `json:"etag,omitempty"`
	Headers     http.Header     `json:"headers,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// EncodeEntity serializes an entity into the JSON envelope. Content must be
// []byte, string, or JSON-encodable; anything else is an encoding error the
// cache write surfaces (and the pipeline logs).
func EncodeEntity(ent *entity.Entity) ([]byte, error) {
	rec := record{
		ContentType: ent.ContentType,
		Charset:     ent.Charset,
		ETag:        ent.ETag,
		Headers:     ent.Headers,
		Timestamp:   ent.Timestamp,
	}
	switch content := ent.Content.(type) {
	case []byte:
		rec.Kind = kindBytes
		rec.Bytes = content
	case string:
		rec.Kind = kindText
		rec.Text = content
	default:
		raw, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("encode cached content: %w", err)
		}
		rec.Kind = kindJSON
		rec.JSON = raw
	}
	return json.Marshal(rec)
}

// DecodeEntity deserializes an envelope produced by EncodeEntity.
func DecodeEntity(data []byte) (*entity.Entity, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	ent := &entity.Entity{
		ContentType: rec.ContentType,
		Charset:     rec.Charset,
		ETag:        rec.ETag,
		Headers:     rec.Headers,
		Timestamp:   rec.Timestamp,
	}
	if ent.Headers == nil {
		ent.Headers = http.Header{}
	}
	switch rec.Kind {
	case kindBytes:
		ent.Content = rec.Bytes
	case kindText:
		ent.Content = rec.Text
	case kindJSON:
		var decoded any
		if err := json.Unmarshal(rec.JSON, &decoded); err != nil {
			return nil, fmt.Errorf("decode cached content: %w", err)
		}
		ent.Content = decoded
	default:
		return nil, fmt.Errorf("unknown cache record kind %q", rec.Kind)
	}
	return ent, nil
}

// DefaultKey derives the cache key from the target's URL. All bundled
// adapters use it.
func DefaultKey(target pipeline.CacheTarget) (string, bool) {
	u := target.URL()
	if u == nil {
		return "", false
	}
	return u.String(), true
}
