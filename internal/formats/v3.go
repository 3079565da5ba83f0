package formats

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
)

const v3RootElement = "ClinicalDocument"

// V3Document summarizes a clinical document.
type V3Document struct {
	Root         string `json:"root"`
	Namespace    string `json:"namespace,omitempty"`
	Title        string `json:"title,omitempty"`
	ElementCount int    `json:"element_count"`
}

// V3Handler walks the XML token stream once, requiring a ClinicalDocument
// root and well-formed markup.
type V3Handler struct{}

var _ domain.Handler = V3Handler{}

func (V3Handler) Handle(ctx context.Context, payload []byte, _ domain.MessageType) (any, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))

	var (
		doc     V3Document
		depth   int
		inTitle bool
		title   strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed document: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if doc.ElementCount%256 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if depth == 0 {
				if doc.Root != "" {
					return nil, errors.New("document has more than one root element")
				}
				if t.Name.Local != v3RootElement {
					return nil, fmt.Errorf("root element is %q, want %q", t.Name.Local, v3RootElement)
				}
				doc.Root = t.Name.Local
				doc.Namespace = t.Name.Space
			}
			depth++
			doc.ElementCount++
			inTitle = depth == 2 && t.Name.Local == "title" && doc.Title == ""
		case xml.EndElement:
			depth--
			inTitle = false
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return nil, errors.New("text outside the root element")
			}
			if inTitle {
				title.Write(t)
			}
		}
		if !inTitle && title.Len() > 0 && doc.Title == "" {
			doc.Title = strings.TrimSpace(title.String())
		}
	}

	if doc.Root == "" {
		return nil, errors.New("document has no root element")
	}
	return doc, nil
}
