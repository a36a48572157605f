package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/getpup/messtore/es"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Unclassified failure
	ExitCommandError = 2 // Command error (bad flags, unreachable backend, etc.)
	ExitConflict     = 3 // Position conflict or duplicate id
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// messageView is the JSON shape of a message. Data and metadata are embedded
// as JSON when they are valid JSON and as strings otherwise.
type messageView struct {
	GlobalPosition uint64          `json:"global_position"`
	Position       uint64          `json:"position"`
	Time           string          `json:"time"`
	StreamName     string          `json:"stream_name"`
	MessageType    string          `json:"type"`
	ID             string          `json:"id"`
	Ord            uint64          `json:"ord"`
	Data           json.RawMessage `json:"data"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

func newMessageView(m *es.Message) messageView {
	return messageView{
		GlobalPosition: m.GlobalPosition,
		Position:       m.Position,
		Time:           m.Time.UTC().Format(time.RFC3339Nano),
		StreamName:     m.StreamName,
		MessageType:    m.MessageType,
		ID:             m.ID,
		Ord:            m.Ord,
		Data:           rawJSON(m.Data),
		Metadata:       rawJSON(m.Metadata),
	}
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

// printMessage writes one message as a JSON line or a text line.
func printMessage(w io.Writer, format string, m *es.Message) error {
	if format == "json" {
		data, err := json.Marshal(newMessageView(m))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintf(w, "%d\t%s/%d\t%s\t%s\t%s\t%s\n",
		m.GlobalPosition,
		m.StreamName, m.Position,
		m.MessageType,
		m.ID,
		m.Time.UTC().Format(time.RFC3339Nano),
		m.Data)
	return err
}

// classify maps store errors to exit codes.
func classify(message string, err error) error {
	switch {
	case errors.Is(err, es.ErrPositionConflict), errors.Is(err, es.ErrDuplicateID):
		return WrapExitError(ExitConflict, message, err)
	case errors.Is(err, es.ErrMalformedStreamName):
		return WrapExitError(ExitCommandError, message, err)
	default:
		return WrapExitError(ExitFailure, message, err)
	}
}
