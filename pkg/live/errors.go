package live

import (
	"fmt"
)

// Error represents a live session error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConfiguration covers client-side misconfiguration, most notably a
	// missing credential. Reported before any network attempt is made.
	ErrConfiguration ErrorType = "configuration_error"
	// ErrDeviceAccess covers microphone/camera/screen acquisition failures.
	ErrDeviceAccess ErrorType = "device_access_error"
	// ErrFormat covers malformed audio payloads.
	ErrFormat ErrorType = "format_error"
	// ErrTransport covers websocket dial and I/O failures.
	ErrTransport ErrorType = "transport_error"
	// ErrOverloaded is the remote's service-unavailable condition; retry later.
	ErrOverloaded ErrorType = "overloaded_error"
	// ErrAPI is a generic remote failure.
	ErrAPI ErrorType = "api_error"
)

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string) *Error {
	return &Error{Type: ErrConfiguration, Message: message}
}

// NewDeviceAccessError creates a device access error.
func NewDeviceAccessError(device string, underlying error) *Error {
	return &Error{
		Type:    ErrDeviceAccess,
		Message: fmt.Sprintf("%s: %v", device, underlying),
		Code:    device,
	}
}

// NewFormatError creates a format error for a malformed payload.
func NewFormatError(message string) *Error {
	return &Error{Type: ErrFormat, Message: message}
}

// NewTransportError creates a transport error.
func NewTransportError(message string) *Error {
	return &Error{Type: ErrTransport, Message: message}
}

// NewOverloadedError creates an overloaded error.
func NewOverloadedError(message string) *Error {
	return &Error{Type: ErrOverloaded, Message: message}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// IsRetryable returns true if the error is worth retrying later.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrOverloaded, ErrTransport:
		return true
	default:
		return false
	}
}
