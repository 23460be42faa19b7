// Package fault defines the error taxonomy shared by every Pilot service.
// Each error carries the operation that raised it, a machine-readable reason,
// and a kind the transport layer maps onto an HTTP status.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a service error for transport mapping.
type Kind int

const (
	// KindInternal covers unexpected storage or programming failures.
	KindInternal Kind = iota
	// KindNotFound covers missing resources and resources the caller may not know exist.
	KindNotFound
	// KindForbidden covers callers with access but without the required role.
	KindForbidden
	// KindConflict covers version mismatches and redundant status transitions.
	KindConflict
	// KindInvalid covers malformed or missing request fields.
	KindInvalid
	// KindUpstream covers failures of external generation or extraction services.
	KindUpstream
)

// Error is the coded error type returned by Pilot services.
type Error struct {
	kind   Kind
	op     string
	reason string
	cause  error
}

// New constructs a coded error for the given operation and reason.
func New(kind Kind, op, reason string, cause error) *Error {
	return &Error{kind: kind, op: op, reason: reason, cause: cause}
}

// Error renders the operation, reason and cause.
func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s.%s", e.op, e.reason)
	}
	return fmt.Sprintf("%s.%s: %v", e.op, e.reason, e.cause)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Kind returns the error classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the dotted operation.reason identifier.
func (e *Error) Code() string {
	return e.op + "." + e.reason
}

// NotFound builds a KindNotFound error.
func NotFound(op, reason string, cause error) *Error {
	return New(KindNotFound, op, reason, cause)
}

// Forbidden builds a KindForbidden error.
func Forbidden(op, reason string, cause error) *Error {
	return New(KindForbidden, op, reason, cause)
}

// Conflict builds a KindConflict error.
func Conflict(op, reason string, cause error) *Error {
	return New(KindConflict, op, reason, cause)
}

// Invalid builds a KindInvalid error.
func Invalid(op, reason string, cause error) *Error {
	return New(KindInvalid, op, reason, cause)
}

// Upstream builds a KindUpstream error.
func Upstream(op, reason string, cause error) *Error {
	return New(KindUpstream, op, reason, cause)
}

// Internal builds a KindInternal error.
func Internal(op, reason string, cause error) *Error {
	return New(KindInternal, op, reason, cause)
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Kind()
	}
	return KindInternal
}

// CodeOf extracts the dotted code from an error chain, or "internal".
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "internal"
}
