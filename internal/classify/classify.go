// Package classify assigns a wire format to raw payload bytes by content
// signature. Checks run in a fixed order and the first match wins:
// v2 segment header, then v3 document root, then FHIR resource JSON.
package classify

import (
	"bytes"
	"encoding/json"
	"slices"
	"unicode/utf8"

	"github.com/PaesslerAG/jsonpath"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
)

var (
	v2Header = []byte("MSH|")
	v3Root   = []byte("<ClinicalDocument")
)

const resourceTypePath = "$.resourceType"

// Func is the signature shared by Classify and any replacement classifier.
type Func func(payload []byte) (domain.MessageType, error)

// Classify returns the message type of payload or a *domain.FormatError.
// It is deterministic and holds no state.
func Classify(payload []byte) (domain.MessageType, error) {
	if len(payload) == 0 {
		return domain.MessageTypeUnknown, domain.NewFormatError("payload is empty")
	}
	if !utf8.Valid(payload) {
		return domain.MessageTypeUnknown, domain.NewFormatError("payload is not valid UTF-8")
	}

	switch {
	case bytes.HasPrefix(payload, v2Header):
		return domain.MessageTypeV2, nil
	case bytes.Contains(payload, v3Root):
		return domain.MessageTypeV3, nil
	case hasResourceType(payload):
		return domain.MessageTypeFHIR, nil
	}
	return domain.MessageTypeUnknown, domain.NewFormatError("no known message signature")
}

// hasResourceType reports whether payload is a JSON object with a
// top-level resourceType key.
func hasResourceType(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}

	var doc map[string]any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return false
	}
	_, err := jsonpath.Get(resourceTypePath, doc)
	return err == nil
}

// Is reports whether payload classifies as one of the given types.
// With no types it reports whether payload classifies at all.
func Is(payload []byte, types ...domain.MessageType) bool {
	t, err := Classify(payload)
	if err != nil {
		return false
	}
	if len(types) == 0 {
		return true
	}
	return slices.Contains(types, t)
}
