package application

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories the account service reports.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDuplicateEmail
	KindInvalidCredentials
	KindEmailNotVerified
	KindInvalidToken
	KindUserNotFound
	KindAlreadyVerified
	KindForbidden
	KindUnauthenticated
	KindTooManyRequests
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicateEmail:
		return "duplicate_email"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindEmailNotVerified:
		return "email_not_verified"
	case KindInvalidToken:
		return "invalid_token"
	case KindUserNotFound:
		return "user_not_found"
	case KindAlreadyVerified:
		return "already_verified"
	case KindForbidden:
		return "forbidden"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// Error is the only error type returned by AccountService operations.
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field messages for KindValidation.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrUserNotFound) works
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation         = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrDuplicateEmail     = &Error{Kind: KindDuplicateEmail, Message: "email already registered"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid email or password"}
	ErrEmailNotVerified   = &Error{Kind: KindEmailNotVerified, Message: "email not verified"}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken, Message: "invalid token"}
	ErrUserNotFound       = &Error{Kind: KindUserNotFound, Message: "user not found"}
	ErrAlreadyVerified    = &Error{Kind: KindAlreadyVerified, Message: "email already verified"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated, Message: "unauthenticated"}
	ErrTooManyRequests    = &Error{Kind: KindTooManyRequests, Message: "too many requests"}
	ErrInternal           = &Error{Kind: KindInternal, Message: "internal server error"}
)

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func validationError(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

func internalError(cause error) *Error {
	return newError(KindInternal, "internal server error", cause)
}

// invalidOrExpired is the single reset-token failure reported to callers.
func invalidOrExpired(cause error) *Error {
	return newError(KindInvalidToken, "invalid or expired token", cause)
}

// KindOf extracts the Kind of err, treating foreign errors as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
