package domain

import (
	"errors"
	"fmt"
)

// Domain errors for medrelay.
var (
	// ErrFormat is returned when a payload cannot be decoded or matches no known signature.
	ErrFormat = errors.New("unrecognized message format")

	// ErrProcessing is returned when a format handler fails to process a message.
	ErrProcessing = errors.New("message processing failed")

	// ErrConfiguration is returned when a component is configured with invalid values.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrBatchAborted marks batch items that were never started because the batch failed fast.
	ErrBatchAborted = errors.New("batch aborted before item started")

	// ErrEmptyPayload is returned when a payload has no bytes.
	ErrEmptyPayload = errors.New("payload is empty")

	// ErrPayloadTooLarge is returned when a payload exceeds the configured size limit.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrScriptTimeout is returned when a script handler exceeds its time budget.
	ErrScriptTimeout = errors.New("script handler timed out")
)

// FormatError describes why a payload could not be classified.
type FormatError struct {
	Reason string
}

// NewFormatError creates a new format error.
func NewFormatError(reason string) *FormatError {
	return &FormatError{Reason: reason}
}

func (e *FormatError) Error() string {
	return ErrFormat.Error() + ": " + e.Reason
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// ProcessingError wraps a handler failure for a classified message.
type ProcessingError struct {
	Type  MessageType
	Cause error
}

// NewProcessingError creates a new processing error.
func NewProcessingError(t MessageType, cause error) *ProcessingError {
	return &ProcessingError{Type: t, Cause: cause}
}

func (e *ProcessingError) Error() string {
	if e.Type == MessageTypeUnknown {
		return fmt.Sprintf("%s: %v", ErrProcessing, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %v", ErrProcessing, e.Type, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is.
func (e *ProcessingError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrProcessing}
	}
	return []error{ErrProcessing, e.Cause}
}

// ConfigurationError represents an invalid configuration value with field details.
type ConfigurationError struct {
	Field   string
	Message string
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{
		Field:   field,
		Message: message,
	}
}

func (e *ConfigurationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}
