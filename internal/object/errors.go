package object

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the HTTP layer can pick a status code.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindUnauthenticated     ErrorKind = "unauthenticated"
	KindNotFound            ErrorKind = "not_found"
	KindNotFoundOrForbidden ErrorKind = "not_found_or_forbidden"
	KindNoFieldsProvided    ErrorKind = "no_fields_provided"
	KindBackendWrite        ErrorKind = "backend_write"
	KindPersist             ErrorKind = "persist"
	KindInternal            ErrorKind = "internal"
)

// Error is returned by every Service operation. Message is safe to show to clients.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func validationError(msg string) *Error {
	return newError(KindValidation, msg, nil)
}
