package domain

import (
	"context"
	"fmt"
)

// Handler parses or otherwise handles a payload of a known format.
// Implementations are owned outside the routing core.
type Handler interface {
	Handle(ctx context.Context, payload []byte, t MessageType) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload []byte, t MessageType) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, payload []byte, t MessageType) (any, error) {
	return f(ctx, payload, t)
}

// MessageProcessor is the single-message contract shared by the processor,
// router and pipeline so they can be layered on each other.
type MessageProcessor interface {
	Process(ctx context.Context, payload []byte) (ProcessingResult, error)
}

// ProcessFunc adapts a function to the MessageProcessor interface.
type ProcessFunc func(ctx context.Context, payload []byte) (ProcessingResult, error)

// Process calls f.
func (f ProcessFunc) Process(ctx context.Context, payload []byte) (ProcessingResult, error) {
	return f(ctx, payload)
}

// Invoke calls h and converts a panic into an error.
func Invoke(ctx context.Context, h Handler, payload []byte, t MessageType) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, payload, t)
}
