// Package apperrors is the unified error vocabulary for the memory substrate.
// It consolidates error kinds into one error type so callers
// can classify failures with errors.Is / errors.As instead of string matching.
package apperrors

import "fmt"

// Kind categorizes an error for handling and response purposes.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindEmbedding          Kind = "EMBEDDING"
	KindTag                Kind = "TAG"
	KindProposition        Kind = "PROPOSITION"
	KindCircuitBreakerOpen Kind = "CIRCUIT_BREAKER_OPEN"
	KindDatabase           Kind = "DATABASE"
	KindConfig             Kind = "CONFIG"
	KindUnavailable        Kind = "UNAVAILABLE"
	KindInternal           Kind = "INTERNAL"
)

// Error is the application's single error type.
type Error struct {
	Kind    Kind
	Message string
	Field   string // offending field name, set for validation errors
	Err     error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Field != "" {
		prefix = fmt.Sprintf("%s[%s]", prefix, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func new(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewValidation creates a validation error naming the offending field.
func NewValidation(field, message string) error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

// NewNotFound creates a not-found error for the named resource.
func NewNotFound(resource string) error {
	return new(KindNotFound, resource+" not found")
}

// NewConflict creates a conflict error, e.g. duplicate association.
func NewConflict(message string) error {
	return new(KindConflict, message)
}

// NewEmbedding wraps an embedding-provider failure.
func NewEmbedding(cause error) error {
	return &Error{Kind: KindEmbedding, Message: "embedding provider failed", Err: cause}
}

// NewTag wraps a tag-provider failure.
func NewTag(cause error) error {
	return &Error{Kind: KindTag, Message: "tag provider failed", Err: cause}
}

// NewProposition wraps a proposition-provider failure.
func NewProposition(cause error) error {
	return &Error{Kind: KindProposition, Message: "proposition provider failed", Err: cause}
}

// NewCircuitBreakerOpen reports a fail-fast rejection from a breaker.
func NewCircuitBreakerOpen(dependency string) error {
	return new(KindCircuitBreakerOpen, "circuit breaker open for "+dependency)
}

// NewDatabase wraps an unrecoverable persistence fault.
func NewDatabase(cause error) error {
	return &Error{Kind: KindDatabase, Message: "database operation failed", Err: cause}
}

// NewConfig creates a setup-time configuration error.
func NewConfig(message string) error {
	return new(KindConfig, message)
}

// NewUnavailable creates a generic fail-fast error for an unavailable dependency.
func NewUnavailable(message string) error {
	return new(KindUnavailable, message)
}

// NewInternal wraps an unexpected internal failure.
func NewInternal(message string, cause error) error {
	return &Error{Kind: KindInternal, Message: message, Err: cause}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
