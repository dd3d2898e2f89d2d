// Package errs defines the error taxonomy shared by the service surface,
// the replication client, and the async drainer.
//
// Errors carry a structured Code so callers can branch on the category
// without string matching, plus free-form detail fields for diagnostics.
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes an error.
type Code string

const (
	// CodeAccessDenied indicates an auth decision returned false.
	CodeAccessDenied Code = "ACCESS_DENIED"

	// CodeNotFound indicates the entity is absent.
	CodeNotFound Code = "NOT_FOUND"

	// CodeModifiedConflict indicates the caller's modified timestamp,
	// truncated to seconds, does not match the stored value.
	CodeModifiedConflict Code = "MODIFIED_CONFLICT"

	// CodeDuplicateModified indicates a race produced two writes with
	// identical modified timestamps, detected at the storage layer.
	CodeDuplicateModified Code = "DUPLICATE_MODIFIED"

	// CodeMalformedTag indicates a tag failed to parse.
	CodeMalformedTag Code = "MALFORMED_TAG"

	// CodeForeignWrite indicates an attempt to locally write an entity
	// whose origin is not local.
	CodeForeignWrite Code = "FOREIGN_WRITE"
)

// Error is a categorized error with optional entity context.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Entity names the affected entity ("ref", "user", ...), when known.
	Entity string

	// Key identifies the affected record (url+origin, qualified tag).
	Key string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (%s %s)", e.Code, e.Message, e.Entity, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithKey attaches entity context and returns the same error.
func (e *Error) WithKey(entity, key string) *Error {
	e.Entity = entity
	e.Key = key
	return e
}

// is reports whether err is an Error with the given code.
// Uses errors.As to handle wrapped errors.
func is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsAccessDenied reports whether the error is an access denial.
func IsAccessDenied(err error) bool { return is(err, CodeAccessDenied) }

// IsNotFound reports whether the error is a missing-entity error.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsModifiedConflict reports whether the error is an optimistic
// concurrency failure.
func IsModifiedConflict(err error) bool { return is(err, CodeModifiedConflict) }

// IsDuplicateModified reports whether the error is a duplicate
// modified-timestamp collision.
func IsDuplicateModified(err error) bool { return is(err, CodeDuplicateModified) }

// IsMalformedTag reports whether the error is a tag parse failure.
func IsMalformedTag(err error) bool { return is(err, CodeMalformedTag) }

// IsForeignWrite reports whether the error is a foreign-origin write
// rejection.
func IsForeignWrite(err error) bool { return is(err, CodeForeignWrite) }
