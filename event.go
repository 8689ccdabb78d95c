package pollen

import "github.com/google/uuid"

// Message is a generic event for payloads whose concrete Go type is not known
// to the producer. Transport adapters and the CLI wrap decoded wire payloads
// in a Message; domain code usually defines its own Event types instead.
type Message struct {
	// MessageID uniquely identifies this event instance.
	MessageID string

	// EventName is the logical type tag of the event.
	EventName string

	// Payload is the opaque event body.
	Payload []byte
}

// NewMessage creates a Message with a fresh unique id.
func NewMessage(name string, payload []byte) *Message {
	return &Message{
		MessageID: uuid.New().String(),
		EventName: name,
		Payload:   payload,
	}
}

// ID returns the unique identifier of this event instance.
func (m *Message) ID() string {
	return m.MessageID
}

// Name returns the logical type tag of the event.
func (m *Message) Name() string {
	return m.EventName
}

// Compile-time interface check.
var _ Event = (*Message)(nil)
