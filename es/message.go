package es

import (
	"time"

	"github.com/google/uuid"

	"github.com/getpup/messtore/es/ordering"
)

// NewMessage is a message waiting to be appended.
// It carries no store-assigned fields; Append turns it into a Message.
type NewMessage struct {
	// StreamName identifies the target stream, formatted category-streamId[+qualifier]
	StreamName string

	// ExpectedPosition is the position the caller believes is next for the stream.
	// It is 0 for a brand-new stream.
	ExpectedPosition uint64

	// MessageType is an opaque event or command tag
	MessageType string

	// Data is stored verbatim
	Data []byte

	// Metadata is optional and stored verbatim.
	// A JSON object with a correlationStreamName field feeds the correlation index.
	Metadata []byte

	// ID must be unique across the store. An empty ID is replaced by a UUIDv7.
	ID string
}

// Message is an immutable, committed message.
type Message struct {
	// Time is the commit wall-clock time with millisecond resolution
	Time time.Time

	StreamName  string
	MessageType string
	ID          string

	Data     []byte
	Metadata []byte

	// GlobalPosition is the store-wide identity, strictly increasing with insertion order
	GlobalPosition uint64

	// Position is the gapless per-stream sequence number starting at 0
	Position uint64

	// Ord is the resolved global order key
	Ord uint64
}

// Category returns the part of the stream name before the first '-'.
func (m *Message) Category() string {
	return mustParse(m.StreamName).Category
}

// StreamID returns the part of the stream name after the first '-'.
func (m *Message) StreamID() string {
	return mustParse(m.StreamName).StreamID
}

// CardinalID returns the stream id without any '+' qualifier.
func (m *Message) CardinalID() string {
	return mustParse(m.StreamName).CardinalID
}

// CorrelationCategory returns the category of metadata.correlationStreamName, if any.
func (m *Message) CorrelationCategory() (string, bool) {
	return CorrelationCategory(m.Metadata)
}

// OrdTime returns the wall-clock time encoded in Ord.
func (m *Message) OrdTime() time.Time {
	return ordering.Time(m.Ord)
}

// mustParse is used on committed messages, whose stream names were validated on append.
func mustParse(name string) StreamName {
	sn, err := ParseStreamName(name)
	if err != nil {
		return StreamName{}
	}
	return sn
}

// Stream is an ordered slice of messages from a single stream.
type Stream struct {
	Name     string
	Messages []Message
}

// Version returns the position of the last message, or -1 for an empty stream.
func (s Stream) Version() int64 {
	if len(s.Messages) == 0 {
		return -1
	}
	return int64(s.Messages[len(s.Messages)-1].Position)
}

// NextPosition returns the expected position for the next append.
func (s Stream) NextPosition() uint64 {
	return uint64(s.Version() + 1)
}

// Len returns the number of messages in the stream.
func (s Stream) Len() int {
	return len(s.Messages)
}

// NewMessageID returns a time-sortable UUIDv7 string.
func NewMessageID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
