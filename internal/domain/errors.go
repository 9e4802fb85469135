package domain

import (
	"errors"
)

// ErrorKind classifies every failure an engine operation can report.
type ErrorKind string

const (
	KindBadRequest         ErrorKind = "BAD_REQUEST"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindConflict           ErrorKind = "CONFLICT"
	KindInvalidCredentials ErrorKind = "INVALID_CREDENTIALS"
	KindInvalidSession     ErrorKind = "INVALID_SESSION"
	KindInvalidOTP         ErrorKind = "INVALID_OTP"
	KindTooManyAttempts    ErrorKind = "TOO_MANY_ATTEMPTS"
	KindInvalidState       ErrorKind = "INVALID_STATE"
	KindInternal           ErrorKind = "INTERNAL_ERROR"
)

// Error is the typed failure returned across the engine boundary.
// Message is safe to show to callers; Err carries the internal cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a typed error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Internal normalizes an unexpected failure into an opaque InternalError.
// Typed errors pass through untouched.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindInternal, Message: "something went wrong", Err: err}
}

// BadRequest reports malformed caller input.
func BadRequest(message string, cause error) error {
	return &Error{Kind: KindBadRequest, Message: message, Err: cause}
}

// KindOf reports the kind of err; untyped errors are internal.
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// invalidSessionMessage is shared by InvalidSession and InvalidOtp so callers
// cannot tell which check failed.
const invalidSessionMessage = "invalid session or incorrect otp"

var (
	ErrUserNotFound       = NewError(KindNotFound, "user not found")
	ErrSessionNotFound    = NewError(KindNotFound, "session not found")
	ErrNoFailedAttempts   = NewError(KindNotFound, "no failed attempts recorded")
	ErrUserExists         = NewError(KindConflict, "user already exists with this email")
	ErrEmailVerified      = NewError(KindConflict, "email is already verified")
	ErrMFAAlreadyEnabled  = NewError(KindConflict, "two-factor authentication is already enabled")
	ErrStatusUnchanged    = NewError(KindConflict, "account status is unchanged")
	ErrInvalidCredentials = NewError(KindInvalidCredentials, "invalid email or password")
	ErrInvalidSession     = NewError(KindInvalidSession, invalidSessionMessage)
	ErrInvalidOTP         = NewError(KindInvalidOTP, invalidSessionMessage)
	ErrTooManyAttempts    = NewError(KindTooManyAttempts, "too many failed attempts, please try again later")
	ErrAccountLocked      = NewError(KindTooManyAttempts, "account temporarily locked after repeated failed logins")
	ErrAccountInactive    = NewError(KindInvalidState, "account is not active, please contact support")
	ErrMFANotEnabled      = NewError(KindInvalidState, "two-factor authentication is not enabled")
	ErrKindNotResendable  = NewError(KindBadRequest, "otp cannot be resent for this session type")
	ErrKindNotValidatable = NewError(KindBadRequest, "session type cannot be validated")
	ErrAlreadyLoggedOut   = NewError(KindBadRequest, "already logged out")
)
