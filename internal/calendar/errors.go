package calendar

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the sync core.
type ErrorKind string

// ErrorKind values
const (
	KindValidation ErrorKind = "validation"
	KindTransport  ErrorKind = "transport"
	KindParse      ErrorKind = "parse"
	KindReconcile  ErrorKind = "reconcile"
	KindNotFound   ErrorKind = "not_found"
	KindInternal   ErrorKind = "internal"
)

// SyncError carries a kind alongside the underlying cause.
type SyncError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind) + " error"
	}
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *SyncError {
	return &SyncError{Kind: kind, Message: message, Err: err}
}

// ValidationError reports rejected caller input.
func ValidationError(message string) *SyncError {
	return newError(KindValidation, message, nil)
}

// TransportError reports a failed fetch.
func TransportError(message string, err error) *SyncError {
	return newError(KindTransport, message, err)
}

// ParseError reports feed content that could not be processed at all.
func ParseError(message string, err error) *SyncError {
	return newError(KindParse, message, err)
}

// ReconcileError reports a failed write to the reservation store.
func ReconcileError(message string, err error) *SyncError {
	return newError(KindReconcile, message, err)
}

// NotFoundError reports a missing feed.
func NotFoundError(message string) *SyncError {
	return newError(KindNotFound, message, nil)
}

// KindOf returns the kind of the first SyncError in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool { return err != nil && KindOf(err) == KindTransport }
