package apperr

import (
	"errors"
	"fmt"
)

// Type is the category of an error raised by the retrieval core
type Type string

const (
	TypeNotFound   Type = "not_found"
	TypeValidation Type = "validation"
	TypeExternal   Type = "external"
	TypeInternal   Type = "internal"
)

// Error is a categorized error with optional context details
type Error struct {
	Type    Type
	Message string
	Err     error
	Details map[string]interface{}

	sentinel *Error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error itself or the sentinel it was derived from
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.sentinel != nil && e.sentinel == t)
}

// Derive returns a new error of the sentinel's kind carrying a specific message
func (e *Error) Derive(message string) *Error {
	d := newError(e.Type, message, nil)
	d.sentinel = e
	return d
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(t Type, message string, err error) *Error {
	return &Error{Type: t, Message: message, Err: err, Details: make(map[string]interface{})}
}

// NotFound reports an entity absent in the tenant scope
func NotFound(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

// Validation reports malformed or missing input
func Validation(message string) *Error {
	return newError(TypeValidation, message, nil)
}

// External wraps an embedding or generative provider failure
func External(message string, err error) *Error {
	return newError(TypeExternal, message, err)
}

// Internal wraps a storage or programming failure
func Internal(message string, err error) *Error {
	return newError(TypeInternal, message, err)
}

var (
	ErrPromptNotFound  = NotFound("prompt not found")
	ErrFileNotFound    = NotFound("file not found")
	ErrBlobNotFound    = NotFound("blob not found")
	ErrEmptyTenant     = Validation("tenant id is required")
	ErrEmptyQuery      = Validation("query cannot be empty")
	ErrUnsupportedType = Validation("unsupported content type")
)

func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

func IsNotFound(err error) bool {
	return TypeOf(err) == TypeNotFound
}

func IsValidation(err error) bool {
	return TypeOf(err) == TypeValidation
}

func IsExternal(err error) bool {
	return TypeOf(err) == TypeExternal
}

// DetailsOf returns the details of a categorized error, or nil
func DetailsOf(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
