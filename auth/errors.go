package auth

import (
	"errors"

	apperrors "github.com/naotama2002/oidc-login-go/internal/errors"
)

// Error is the typed error returned by every failed authentication attempt.
type Error = apperrors.AppError

// ErrorType discriminates Error values.
type ErrorType = apperrors.ErrorType

const (
	DiscoveryError     = apperrors.DiscoveryError
	ConfigError        = apperrors.ConfigError
	AuthorizationError = apperrors.AuthorizationError
	TokenExchangeError = apperrors.TokenExchangeError
	TimeoutError       = apperrors.TimeoutError
)

// Reason codes set on locally detected authorization failures.
const (
	CodeStateMismatch  = "state_mismatch"
	CodeIssuerMismatch = "issuer_mismatch"
	CodeMissingCode    = "missing_code"
	CodeCancelled      = "cancelled"
	CodeSuperseded     = "superseded"
	CodeInvalidRequest = "invalid_redirect"
)

var (
	// ErrSessionClosed is returned when a callback or cancel reaches a session
	// that has already reached a terminal state. The session is unchanged.
	ErrSessionClosed = errors.New("authorization session already closed")

	// ErrResultConsumed is returned by Wait after the session outcome was already handed out.
	ErrResultConsumed = errors.New("authorization result already consumed")

	// ErrUnknownState is returned when a redirect does not correlate with any pending session.
	ErrUnknownState = errors.New("no pending authorization session for state")
)

// IsErrorType reports whether err carries an Error of the given type.
func IsErrorType(err error, t ErrorType) bool {
	return apperrors.IsType(err, t)
}

// AsError extracts the Error from err's chain.
func AsError(err error) (*Error, bool) {
	var appErr *Error
	if apperrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
