// Package apperr defines the error taxonomy returned by every core service.
//
// Callers only ever see a Kind and a short stable reason code. Storage errors are
// reclassified with FromStorage before they leave a service; the original cause is
// kept for logging but never rendered.
package apperr

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindDenied
	KindNotFound
	KindConflict
	KindInvalidInput
	KindInvalidOrExpired
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindDenied:
		return "denied"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidOrExpired:
		return "invalid_or_expired"
	default:
		return "internal"
	}
}

// Error is a classified error. Reason is a stable machine-readable code.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Reason
}

// Unwrap exposes the underlying cause to errors.Is/As for logging paths.
func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error by kind and, when set on the target, by reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Cause returns the wrapped storage or transport error, if any.
func (e *Error) Cause() error { return e.cause }

// Sentinels for errors.Is comparisons on kind only.
var (
	ErrUnauthenticated  = &Error{Kind: KindUnauthenticated}
	ErrDenied           = &Error{Kind: KindDenied}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrInvalidOrExpired = &Error{Kind: KindInvalidOrExpired}
	ErrInternal         = &Error{Kind: KindInternal}
)

func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Reason: "unauthenticated"}
}

func Denied(reason string) *Error {
	return &Error{Kind: KindDenied, Reason: reason}
}

func NotFound(reason string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason}
}

func Conflict(reason string) *Error {
	return &Error{Kind: KindConflict, Reason: reason}
}

func InvalidInput(reason string) *Error {
	return &Error{Kind: KindInvalidInput, Reason: reason}
}

func InvalidOrExpired() *Error {
	return &Error{Kind: KindInvalidOrExpired, Reason: "invalid_or_expired"}
}

// Internal wraps an unexpected fault. The cause is retained for logs only.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Reason: "internal", cause: cause}
}

// WithCause attaches a cause without changing how the error renders.
func (e *Error) WithCause(cause error) *Error {
	return &Error{Kind: e.Kind, Reason: e.Reason, cause: cause}
}

// KindOf returns the kind of err, treating unclassified errors as internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// ReasonOf returns the stable reason code of err.
func ReasonOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Reason != "" {
			return ae.Reason
		}
		return ae.Kind.String()
	}
	return "internal"
}

// FromStorage reclassifies an error coming out of gorm. Already classified
// errors pass through untouched.
func FromStorage(err error, notFoundReason string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound(notFoundReason).WithCause(err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return Conflict("duplicate").WithCause(err)
	default:
		return Internal(fmt.Errorf("storage: %w", err))
	}
}
