package pollen

import (
	"fmt"
	"strings"
)

// Kind distinguishes the two delivery disciplines a channel can have.
type Kind string

const (
	// KindTopic broadcasts each event to every matching subscriber.
	KindTopic Kind = "topic"

	// KindQueue delivers each event to the first matching subscriber only.
	KindQueue Kind = "queue"
)

// MatchAll is the name and pattern token that matches any channel name.
const MatchAll = "*"

// Channel names a concrete destination for an emit: a kind plus a name.
// The zero Channel means "no channel"; emitting to it behaves like Emit.
type Channel struct {
	Kind Kind
	Name string
}

// NewTopic returns a topic channel with the given name.
func NewTopic(name string) Channel {
	return Channel{Kind: KindTopic, Name: name}
}

// NewQueue returns a queue channel with the given name.
func NewQueue(name string) Channel {
	return Channel{Kind: KindQueue, Name: name}
}

// IsZero reports whether the channel is the zero value.
func (c Channel) IsZero() bool {
	return c.Kind == "" && c.Name == ""
}

// String renders the channel in its textual kind:name form.
func (c Channel) String() string {
	return string(c.Kind) + ":" + c.Name
}

// ParseChannel parses the textual kind:name form produced by String.
func ParseChannel(s string) (Channel, error) {
	kind, name, ok := strings.Cut(s, ":")
	if !ok {
		return Channel{}, fmt.Errorf("parse channel %q: want kind:name", s)
	}
	switch Kind(kind) {
	case KindTopic, KindQueue:
		return Channel{Kind: Kind(kind), Name: name}, nil
	}
	return Channel{}, fmt.Errorf("parse channel %q: unknown kind %q", s, kind)
}
