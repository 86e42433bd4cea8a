package auth

import (
	"errors"
	"fmt"
)

// Code is a stable error code for credential failures.
type Code string

const (
	ENoCredential    Code = "E_NO_CREDENTIAL"
	ECorruptStore    Code = "E_CORRUPT_CREDENTIAL"
	ERefreshFailed   Code = "E_REFRESH_FAILED"
	ELoginInProgress Code = "E_LOGIN_IN_PROGRESS"
	EListenFailed    Code = "E_LISTEN_FAILED"
	EStateMismatch   Code = "E_STATE_MISMATCH"
	EMissingCode     Code = "E_MISSING_CODE"
	EDenied          Code = "E_AUTHORIZATION_DENIED"
	EExchangeFailed  Code = "E_EXCHANGE_FAILED"
	EPersistFailed   Code = "E_PERSIST_FAILED"
)

// AuthError is returned when no usable access token can be produced.
// Callers should fail the current action; a human has to log in again.
type AuthError struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *AuthError) Unwrap() error { return e.Cause }

func newError(code Code, msg string, cause error) error {
	return &AuthError{Code: code, Msg: msg, Cause: cause}
}

// GetCode extracts the code from err, or "" if err is not an AuthError.
func GetCode(err error) Code {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsAuthError reports whether err is or wraps an AuthError.
func IsAuthError(err error) bool { return GetCode(err) != "" }
