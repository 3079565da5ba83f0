// Package formats holds the built-in handlers for each wire format. They
// check structure and extract a summary; none is a conformance validator.
package formats

import (
	"fmt"
	"time"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
	"github.com/stiffinWanjohi/medrelay/internal/routing"
)

// DefaultHandlers returns the built-in handler for every message type.
func DefaultHandlers() (routing.Handlers, error) {
	fhir, err := NewFHIRHandler()
	if err != nil {
		return routing.Handlers{}, err
	}
	return routing.Handlers{
		V2:   V2Handler{},
		V3:   V3Handler{},
		FHIR: fhir,
	}, nil
}

// Gate puts a script in front of every handler in hs. The script is
// compiled once and shared.
func Gate(hs routing.Handlers, source string, timeout time.Duration) (routing.Handlers, error) {
	base, err := NewScriptHandler(source, timeout, nil)
	if err != nil {
		return routing.Handlers{}, fmt.Errorf("gate handlers: %w", err)
	}

	wrap := func(next domain.Handler) domain.Handler {
		h := *base
		h.Next = next
		return &h
	}
	return routing.Handlers{
		V2:   wrap(hs.V2),
		V3:   wrap(hs.V3),
		FHIR: wrap(hs.FHIR),
	}, nil
}
