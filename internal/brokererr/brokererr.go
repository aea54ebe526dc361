// Package brokererr classifies broker failures into the semantic error kinds
// named in spec.md §7, in the style of the teacher's internal/service sentinel
// pair (errValidation/errConflict wrapped by classifiedError) and
// internal/dbaccess.QuotaError.
package brokererr

import (
	"errors"
	"fmt"
)

// Kind is one of the nine semantic error categories from spec.md §7.
type Kind int

const (
	// InvalidArgument covers bad topic names, unknown schemas, oversize
	// messages, and capacity exhaustion.
	InvalidArgument Kind = iota
	// NotFound covers a missing topic or client id.
	NotFound
	// AlreadyExists covers a topic-create collision.
	AlreadyExists
	// TypeMismatch covers a client id found under the wrong capability.
	TypeMismatch
	// ValidationFailure covers schema-rejected payloads.
	ValidationFailure
	// StorageFailure covers flush/put/get errors against the persistent store.
	StorageFailure
	// CodecFailure covers encode/decode errors.
	CodecFailure
	// Aborted is cooperative cancellation: clean, not an error to the caller.
	Aborted
	// Internal covers invariant violations.
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case TypeMismatch:
		return "type_mismatch"
	case ValidationFailure:
		return "validation_failure"
	case StorageFailure:
		return "storage_failure"
	case CodecFailure:
		return "codec_failure"
	case Aborted:
		return "aborted"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a classified broker error: a Kind plus a message and optional
// wrapped cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, brokererr.InvalidArgument) work by comparing kinds
// through a sentinel wrapper (kindSentinel implements error and matches any
// *Error carrying the same Kind).
func (e *Error) Is(target error) bool {
	ks, ok := target.(kindSentinel)
	return ok && e.Kind == Kind(ks)
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return Kind(k).String() }

// Sentinel returns a value usable with errors.Is to test for a Kind, e.g.
// errors.Is(err, brokererr.Sentinel(brokererr.NotFound)).
func Sentinel(k Kind) error { return kindSentinel(k) }

// New builds a classified error.
func New(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a classified error around an existing cause.
func Wrap(k Kind, cause error, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err (or something it wraps) was classified as k.
func Is(err error, k Kind) bool {
	return errors.Is(err, Sentinel(k))
}

// KindOf extracts the Kind of a classified error, defaulting to Internal for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
