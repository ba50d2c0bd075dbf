package domain

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified failure. Msg is safe to show to API clients.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error { return newError(KindValidation, format, args...) }
func Unauthorizedf(format string, args ...any) error {
	return newError(KindUnauthorized, format, args...)
}
func Forbiddenf(format string, args ...any) error { return newError(KindForbidden, format, args...) }
func NotFoundf(format string, args ...any) error  { return newError(KindNotFound, format, args...) }
func Conflictf(format string, args ...any) error  { return newError(KindConflict, format, args...) }

// Wrap attaches a kind and client-facing message to an underlying error.
func Wrap(kind Kind, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool     { return err != nil && KindOf(err) == KindNotFound }
func IsConflict(err error) bool     { return err != nil && KindOf(err) == KindConflict }
func IsValidation(err error) bool   { return err != nil && KindOf(err) == KindValidation }
func IsUnauthorized(err error) bool { return err != nil && KindOf(err) == KindUnauthorized }
func IsForbidden(err error) bool    { return err != nil && KindOf(err) == KindForbidden }

// Message returns the client-facing message of a classified error.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Msg
	}
	return ""
}

var (
	// ErrInvalidCredentials is returned for any failed login, whichever check failed.
	ErrInvalidCredentials = &Error{Kind: KindUnauthorized, Msg: "invalid credentials"}
	// ErrUserAlreadyExists is returned when registering an email that is taken.
	ErrUserAlreadyExists = &Error{Kind: KindConflict, Msg: "user already exists"}
	ErrUserNotFound      = &Error{Kind: KindNotFound, Msg: "user not found"}
	ErrTaskNotFound      = &Error{Kind: KindNotFound, Msg: "Task not found"}
)
