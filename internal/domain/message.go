package domain

import "fmt"

// MessageType is the closed set of wire formats the router understands.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeV2
	MessageTypeV3
	MessageTypeFHIR
)

// AllMessageTypes returns every known message type in classification order.
func AllMessageTypes() []MessageType {
	return []MessageType{MessageTypeV2, MessageTypeV3, MessageTypeFHIR}
}

func (t MessageType) String() string {
	switch t {
	case MessageTypeV2:
		return "v2"
	case MessageTypeV3:
		return "v3"
	case MessageTypeFHIR:
		return "fhir"
	default:
		return "unknown"
	}
}

// IsValid returns true for the three routable types.
func (t MessageType) IsValid() bool {
	return t >= MessageTypeV2 && t <= MessageTypeFHIR
}

// ParseMessageType is the inverse of String.
func ParseMessageType(s string) (MessageType, error) {
	for _, t := range AllMessageTypes() {
		if t.String() == s {
			return t, nil
		}
	}
	return MessageTypeUnknown, fmt.Errorf("unknown message type %q", s)
}

// MarshalText lets message types be used as JSON object keys.
func (t MessageType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses the string form produced by MarshalText.
func (t *MessageType) UnmarshalText(b []byte) error {
	parsed, err := ParseMessageType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
