package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSuccessResult(t *testing.T) {
	payload := []byte("MSH|^~\\&|")
	r := NewSuccessResult(payload, time.Millisecond)

	assert.True(t, r.Success)
	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, payload, r.Payload)
	assert.Equal(t, time.Millisecond, r.Duration)
	assert.Empty(t, r.Error)
	assert.NoError(t, r.Err())
}

func TestNewFailureResult(t *testing.T) {
	payload := []byte{0xFF, 0xFE}
	r := NewFailureResult(payload, errors.New("bad bytes"), 2*time.Millisecond)

	assert.False(t, r.Success)
	assert.Equal(t, payload, r.Payload, "payload is kept on failure")
	assert.Equal(t, "bad bytes", r.Error)
	assert.ErrorIs(t, r.Err(), ErrProcessing)
	assert.ErrorContains(t, r.Err(), "bad bytes")

	typed := r.WithType(MessageTypeV2).Err()
	var perr *ProcessingError
	require.ErrorAs(t, typed, &perr)
	assert.Equal(t, MessageTypeV2, perr.Type)

	bare := NewFailureResult(nil, nil, 0)
	assert.ErrorIs(t, bare.Err(), ErrProcessing)
}

func TestProcessingResult_CopyOnWith(t *testing.T) {
	base := NewSuccessResult([]byte("{}"), 0)
	typed := base.WithType(MessageTypeFHIR).WithDocument(map[string]any{"resourceType": "Patient"})

	assert.Equal(t, MessageTypeUnknown, base.Type)
	assert.Nil(t, base.Document)
	assert.Equal(t, MessageTypeFHIR, typed.Type)
	assert.Equal(t, base.ID, typed.ID)
	assert.NotNil(t, typed.Document)
}

func TestResultIDsAreUnique(t *testing.T) {
	seen := make(map[uuid.UUID]bool)
	for range 100 {
		id := NewSuccessResult(nil, 0).ID
		assert.False(t, seen[id])
		seen[id] = true
	}
}
