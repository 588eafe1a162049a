package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of a failed authentication attempt
type ErrorType string

const (
	// DiscoveryError represents provider metadata failures
	DiscoveryError ErrorType = "discovery_error"
	// ConfigError represents invalid client configuration
	ConfigError ErrorType = "config_error"
	// AuthorizationError represents a rejected or abandoned authorization response
	AuthorizationError ErrorType = "authorization_error"
	// TokenExchangeError represents token endpoint and id_token failures
	TokenExchangeError ErrorType = "token_exchange_error"
	// TimeoutError represents an attempt that did not complete before its deadline
	TimeoutError ErrorType = "timeout_error"
)

// AppError represents a structured, terminal error for one authentication attempt
type AppError struct {
	Type ErrorType `json:"type"`
	// Message is a short human readable summary
	Message string `json:"message"`
	// Details carries extra context such as a provider supplied error_description
	Details string `json:"details,omitempty"`
	// Code is the OAuth error code (e.g. "access_denied") or a local reason code
	Code string `json:"code,omitempty"`
	// StatusCode is the HTTP status returned by the provider, when one was involved
	StatusCode int   `json:"status_code,omitempty"`
	Cause      error `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   err,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCode adds an OAuth or local reason code to an AppError
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithStatusCode adds an HTTP status code to an AppError
func (e *AppError) WithStatusCode(code int) *AppError {
	e.StatusCode = code
	return e
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// As finds the outermost AppError in err's chain
func As(err error, target **AppError) bool {
	return stderrors.As(err, target)
}

// Convenience constructors for common error types

// NewDiscoveryError creates a discovery error
func NewDiscoveryError(message string) *AppError {
	return New(DiscoveryError, message)
}

// NewConfigError creates a configuration error
func NewConfigError(message string) *AppError {
	return New(ConfigError, message)
}

// NewAuthorizationError creates an authorization error
func NewAuthorizationError(message string) *AppError {
	return New(AuthorizationError, message)
}

// NewTokenExchangeError creates a token exchange error
func NewTokenExchangeError(message string) *AppError {
	return New(TokenExchangeError, message)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string) *AppError {
	return New(TimeoutError, message)
}
