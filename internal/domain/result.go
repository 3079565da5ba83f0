package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ProcessingResult is the outcome of one unit of work.
// The original payload is retained on both success and failure.
type ProcessingResult struct {
	ID       uuid.UUID     `json:"id"`
	Success  bool          `json:"success"`
	Type     MessageType   `json:"type,omitempty"`
	Payload  []byte        `json:"payload"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Document any           `json:"document,omitempty"`
}

// NewSuccessResult creates a successful processing result.
func NewSuccessResult(payload []byte, duration time.Duration) ProcessingResult {
	return ProcessingResult{
		ID:       uuid.New(),
		Success:  true,
		Payload:  payload,
		Duration: duration,
	}
}

// NewFailureResult creates a failed processing result.
func NewFailureResult(payload []byte, err error, duration time.Duration) ProcessingResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ProcessingResult{
		ID:       uuid.New(),
		Success:  false,
		Payload:  payload,
		Duration: duration,
		Error:    msg,
	}
}

// WithType returns a copy of the result tagged with the message type.
func (r ProcessingResult) WithType(t MessageType) ProcessingResult {
	r.Type = t
	return r
}

// WithDocument returns a copy of the result carrying the handler's structured output.
func (r ProcessingResult) WithDocument(doc any) ProcessingResult {
	r.Document = doc
	return r
}

// Err returns the failure as a *ProcessingError, or nil for a successful
// result. The recorded message is only text, so the original cause chain is
// lost; ErrProcessing always matches.
func (r ProcessingResult) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return ErrProcessing
	}
	return NewProcessingError(r.Type, errors.New(r.Error))
}
