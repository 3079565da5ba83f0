package formats

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
)

//go:embed schema/resource.json
var resourceSchema string

// FHIRResource summarizes a resource that passed envelope validation.
type FHIRResource struct {
	ResourceType string `json:"resource_type"`
	ID           string `json:"id,omitempty"`
	Fields       int    `json:"fields"`
}

// FHIRHandler validates the resource envelope (resourceType, id, meta)
// against an embedded JSON Schema. Resource bodies are not checked.
type FHIRHandler struct {
	schema *jsonschema.Schema
}

var _ domain.Handler = (*FHIRHandler)(nil)

// NewFHIRHandler compiles the embedded envelope schema.
func NewFHIRHandler() (*FHIRHandler, error) {
	schema, err := jsonschema.CompileString("resource.json", resourceSchema)
	if err != nil {
		return nil, fmt.Errorf("compile resource schema: %w", err)
	}
	return &FHIRHandler{schema: schema}, nil
}

func (h *FHIRHandler) Handle(_ context.Context, payload []byte, _ domain.MessageType) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode resource: trailing data after object")
	}
	if err := h.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid resource: %w", err)
	}

	obj := doc.(map[string]any)
	res := FHIRResource{
		ResourceType: obj["resourceType"].(string),
		Fields:       len(obj),
	}
	if id, ok := obj["id"].(string); ok {
		res.ID = id
	}
	return res, nil
}
