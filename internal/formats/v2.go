package formats

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
)

// V2Segment is one pipe-delimited segment.
type V2Segment struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// V2Message is the structural view of a segment message.
type V2Message struct {
	FieldSeparator string      `json:"field_separator"`
	MessageType    string      `json:"message_type"`
	ControlID      string      `json:"control_id,omitempty"`
	Version        string      `json:"version,omitempty"`
	Segments       []V2Segment `json:"segments"`
}

// V2Handler splits a v2 message into segments and reads the MSH header.
// It checks structure only.
type V2Handler struct{}

var _ domain.Handler = V2Handler{}

func (V2Handler) Handle(ctx context.Context, payload []byte, _ domain.MessageType) (any, error) {
	if len(payload) < 8 || !bytes.HasPrefix(payload, []byte("MSH")) {
		return nil, errors.New("message must start with an MSH segment")
	}
	sep := payload[3]

	msg := V2Message{FieldSeparator: string(sep)}
	for line := range bytes.FieldsFuncSeq(payload, isSegmentTerminator) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fields := bytes.Split(line, []byte{sep})
		name := string(fields[0])
		if !validSegmentName(name) {
			return nil, fmt.Errorf("segment %d: invalid segment name %q", len(msg.Segments)+1, name)
		}
		seg := V2Segment{Name: name, Fields: make([]string, len(fields)-1)}
		for i, f := range fields[1:] {
			seg.Fields[i] = string(f)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	// MSH-1 is the separator itself, so MSH-n sits at Fields[n-2].
	header := msg.Segments[0]
	msg.MessageType = field(header, 9)
	msg.ControlID = field(header, 10)
	msg.Version = field(header, 12)
	if msg.MessageType == "" {
		return nil, errors.New("MSH-9 message type is required")
	}
	return msg, nil
}

func field(seg V2Segment, n int) string {
	if i := n - 2; i >= 0 && i < len(seg.Fields) {
		return seg.Fields[i]
	}
	return ""
}

func isSegmentTerminator(r rune) bool {
	return r == '\r' || r == '\n'
}

func validSegmentName(name string) bool {
	if len(name) != 3 {
		return false
	}
	for i := range len(name) {
		c := name[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
