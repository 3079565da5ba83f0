package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrors_ErrorMessages(t *testing.T) {
	tests := []struct {
		err      error
		contains string
	}{
		{ErrFormat, "unrecognized message format"},
		{ErrProcessing, "processing failed"},
		{ErrConfiguration, "invalid configuration"},
		{ErrBatchAborted, "batch aborted"},
		{ErrEmptyPayload, "empty"},
		{ErrPayloadTooLarge, "maximum size"},
		{ErrScriptTimeout, "timed out"},
	}

	for _, tt := range tests {
		assert.Contains(t, tt.err.Error(), tt.contains)
	}
}

func TestFormatError(t *testing.T) {
	err := NewFormatError("payload is not valid UTF-8")

	assert.Equal(t, "unrecognized message format: payload is not valid UTF-8", err.Error())
	assert.ErrorIs(t, err, ErrFormat)
	assert.NotErrorIs(t, err, ErrProcessing)

	wrapped := fmt.Errorf("route: %w", err)
	var fe *FormatError
	require.ErrorAs(t, wrapped, &fe)
	assert.Equal(t, "payload is not valid UTF-8", fe.Reason)
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("missing MSH segment")

	t.Run("typed", func(t *testing.T) {
		err := NewProcessingError(MessageTypeV2, cause)
		assert.Equal(t, "message processing failed (v2): missing MSH segment", err.Error())
		assert.ErrorIs(t, err, ErrProcessing)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("untyped", func(t *testing.T) {
		err := NewProcessingError(MessageTypeUnknown, cause)
		assert.Equal(t, "message processing failed: missing MSH segment", err.Error())
	})

	t.Run("nil cause", func(t *testing.T) {
		err := NewProcessingError(MessageTypeFHIR, nil)
		assert.ErrorIs(t, err, ErrProcessing)
	})

	t.Run("cause sentinel visible", func(t *testing.T) {
		err := NewProcessingError(MessageTypeV3, fmt.Errorf("script: %w", ErrScriptTimeout))
		assert.ErrorIs(t, err, ErrScriptTimeout)
	})
}

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("concurrency", "must be at least 1")

	assert.Equal(t, "concurrency: must be at least 1", err.Error())
	assert.ErrorIs(t, err, ErrConfiguration)

	var ce *ConfigurationError
	require.ErrorAs(t, fmt.Errorf("batch: %w", err), &ce)
	assert.Equal(t, "concurrency", ce.Field)
}

func TestInvoke_RecoversPanic(t *testing.T) {
	h := HandlerFunc(func(context.Context, []byte, MessageType) (any, error) {
		panic("nil segment")
	})

	out, err := Invoke(context.Background(), h, nil, MessageTypeV2)
	assert.Nil(t, out)
	assert.ErrorContains(t, err, "handler panic: nil segment")
}

func TestInvoke_PassesThrough(t *testing.T) {
	h := HandlerFunc(func(_ context.Context, p []byte, mt MessageType) (any, error) {
		return string(p) + mt.String(), nil
	})

	out, err := Invoke(context.Background(), h, []byte("x-"), MessageTypeV3)
	require.NoError(t, err)
	assert.Equal(t, "x-v3", out)
}
