package es

import (
	"encoding/json"
	"strings"
)

const (
	categorySeparator = "-"
	cardinalSeparator = "+"
)

// StreamName is the decomposition of a stream name.
type StreamName struct {
	Category   string
	StreamID   string
	CardinalID string
}

// ParseStreamName splits name on the first '-' into category and stream id.
// The cardinal id is the stream id up to its first '+', or the whole stream id.
func ParseStreamName(name string) (StreamName, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return StreamName{}, &MalformedStreamNameError{Name: name, Reason: "contains a NUL byte"}
	}

	category, streamID, ok := strings.Cut(name, categorySeparator)
	if !ok {
		return StreamName{}, &MalformedStreamNameError{Name: name, Reason: "missing '-' separator"}
	}
	if category == "" {
		return StreamName{}, &MalformedStreamNameError{Name: name, Reason: "empty category"}
	}
	if streamID == "" {
		return StreamName{}, &MalformedStreamNameError{Name: name, Reason: "empty stream id"}
	}

	cardinalID, _, _ := strings.Cut(streamID, cardinalSeparator)

	return StreamName{
		Category:   category,
		StreamID:   streamID,
		CardinalID: cardinalID,
	}, nil
}

// String reassembles the stream name.
func (s StreamName) String() string {
	return s.Category + categorySeparator + s.StreamID
}

// CorrelationStreamNameField is the metadata key that links a message to another stream.
const CorrelationStreamNameField = "correlationStreamName"

// CorrelationCategory extracts the category of metadata.correlationStreamName.
// It reports false when metadata is not a JSON object, the field is absent or not
// a string, or the referenced stream name has no category.
func CorrelationCategory(metadata []byte) (string, bool) {
	if len(metadata) == 0 {
		return "", false
	}

	// The key is matched exactly, the way the SQL realizations extract it.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(metadata, &fields); err != nil {
		return "", false
	}
	raw, ok := fields[CorrelationStreamNameField]
	if !ok {
		return "", false
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", false
	}

	category, _, ok := strings.Cut(name, categorySeparator)
	if !ok || category == "" || strings.IndexByte(category, 0) >= 0 {
		return "", false
	}
	return category, true
}
