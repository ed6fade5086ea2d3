package entity

import (
	"fmt"
	"net/http"
	"time"
)

// Error is the single structured error value for everything a request can
// fail with: body encoding, transport faults, HTTP error statuses, and
// transformer failures. It carries a user-facing message so applications can
// render it without inspecting the cause chain.
type Error struct {
	// Message is the user-facing description of the failure.
	Message string

	// Cause is the underlying error, when one exists.
	Cause error

	// Status is the HTTP status code, or 0 when the failure never reached
	// an HTTP response.
	Status int

	// Entity is the decoded response body accompanying the failure, if a
	// stage managed to decode one (e.g. a structured error payload).
	Entity *Entity

	// Timestamp is when the failure was recorded.
	Timestamp time.Time
}

// NewError builds an error with an explicit user-facing message.
func NewError(message string) *Error {
	return &Error{Message: message, Timestamp: time.Now()}
}

// FromCause derives the user-facing message from the underlying cause.
func FromCause(cause error) *Error {
	return &Error{Message: cause.Error(), Cause: cause, Timestamp: time.Now()}
}

// FromStatus derives the user-facing message from the HTTP status text.
func FromStatus(status int) *Error {
	text := http.StatusText(status)
	if text == "" {
		text = fmt.Sprintf("server error %d", status)
	}
	return &Error{Message: text, Status: status, Timestamp: time.Now()}
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// WithStatus sets the HTTP status code.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithEntity attaches the decoded response body.
func (e *Error) WithEntity(ent *Entity) *Error {
	e.Entity = ent
	return e
}

// WithMessage replaces the user-facing message.
func (e *Error) WithMessage(message string) *Error {
	e.Message = message
	return e
}
