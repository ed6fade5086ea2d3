// Package entity holds the processed-content snapshot passed between
// pipeline stages and the typed result that carries it.
package entity

import (
	"mime"
	"net/http"
	"time"
)

// Entity is an immutable snapshot of processed content plus the response
// metadata it was derived from. Content type and charset are derived once
// from the response headers at the decoding boundary and never recomputed
// downstream. Treat a constructed Entity as read-only; derive new snapshots
// with WithContent or WithTimestamp.
type Entity struct {
	// Content is the processed representation: raw bytes near the start of
	// the pipeline, progressively richer values toward the end.
	Content any

	// ContentType is the media type without parameters, e.g. "application/json".
	ContentType string

	// Charset is the charset parameter of the Content-Type header, if any.
	Charset string

	// Headers are the response headers the entity was derived from.
	Headers http.Header

	// ETag is the response's entity tag, used for conditional revalidation.
	ETag string

	// Timestamp is when this entity was produced or last revalidated.
	Timestamp time.Time
}

// New derives an Entity from response content and headers. The content type
// and charset come from the Content-Type header, with parameters stripped
// from the media type.
func New(content any, headers http.Header) *Entity {
	e := &Entity{
		Content:   content,
		Headers:   headers.Clone(),
		ETag:      headers.Get("Etag"),
		Timestamp: time.Now(),
	}
	ct := headers.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	if mediaType, params, err := mime.ParseMediaType(ct); err == nil {
		e.ContentType = mediaType
		e.Charset = params["charset"]
	} else {
		e.ContentType = ct
	}
	return e
}

// NewLocal builds an Entity for locally originated content that never came
// off the wire. An empty contentType defaults to application/octet-stream.
func NewLocal(content any, contentType string) *Entity {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Entity{
		Content:     content,
		ContentType: contentType,
		Headers:     http.Header{},
		Timestamp:   time.Now(),
	}
}

// Header returns the named response header, or "" when absent.
func (e *Entity) Header(name string) string {
	return e.Headers.Get(name)
}

// WithContent returns a copy of the entity carrying new content. Metadata is
// preserved so downstream stages keep seeing the declared content type.
func (e *Entity) WithContent(content any) *Entity {
	clone := *e
	clone.Content = content
	return &clone
}

// WithTimestamp returns a copy of the entity stamped at t.
func (e *Entity) WithTimestamp(t time.Time) *Entity {
	clone := *e
	clone.Timestamp = t
	return &clone
}

// Result is the outcome of one pipeline stage: either a processed Entity or
// a structured Error. Failures are threaded through every remaining stage so
// later stages can rewrite or annotate them.
type Result struct {
	Entity *Entity
	Err    *Error
}

// Success wraps a processed entity.
func Success(e *Entity) Result { return Result{Entity: e} }

// Failure wraps a structured error.
func Failure(err *Error) Result { return Result{Err: err} }

// OK reports whether the result carries an entity rather than an error.
func (r Result) OK() bool { return r.Err == nil }
