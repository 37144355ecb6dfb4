package device

import (
	"errors"
	"fmt"
)

// ErrorCategory defines the normalized failure taxonomy across providers.
type ErrorCategory string

const (
	// ErrorTimeout indicates the provider took too long to respond.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorAuthentication indicates credential, token, or session issues.
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorNotConnected indicates no live token/session for the call.
	ErrorNotConnected ErrorCategory = "not_connected"

	// ErrorDeviceState indicates the device rejected the call in its
	// current state (unknown transaction number, storage full, blocked).
	ErrorDeviceState ErrorCategory = "device_state"

	// ErrorProviderOutage indicates the provider is unreachable.
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorBadData indicates the provider returned a malformed response.
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorInternal indicates an unexpected internal error.
	ErrorInternal ErrorCategory = "internal"
)

// AdapterError wraps provider failures with normalized categorization so the
// router and job runner never branch on provider-specific error text.
type AdapterError struct {
	Category   ErrorCategory
	DeviceType Type
	Message    string
	Underlying error
	Retryable  bool
}

func (e *AdapterError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("device %s [%s]: %s: %v", e.DeviceType, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("device %s [%s]: %s", e.DeviceType, e.Category, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Underlying
}

// NewError creates a normalized adapter error. Timeouts, outages, and missing
// connections are retryable with a fresh request; the rest are not.
func NewError(category ErrorCategory, deviceType Type, message string, underlying error) *AdapterError {
	retryable := category == ErrorTimeout ||
		category == ErrorProviderOutage ||
		category == ErrorNotConnected

	return &AdapterError{
		Category:   category,
		DeviceType: deviceType,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable checks if an error is worth retrying with a new request.
func IsRetryable(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// CategoryOf extracts the error category from an error.
func CategoryOf(err error) ErrorCategory {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ErrorInternal
}

// Sentinel errors for common cases.
var (
	ErrUnknownDeviceType  = errors.New("unknown device type")
	ErrUnknownTransaction = errors.New("unknown transaction number")
	ErrNotConnected       = errors.New("device not connected")
)
