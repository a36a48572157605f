package es

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedStreamName indicates a stream name outside the category-streamId grammar.
	ErrMalformedStreamName = errors.New("malformed stream name")

	// ErrPositionConflict indicates the expected position did not continue the stream.
	ErrPositionConflict = errors.New("stream position conflict")

	// ErrDuplicateID indicates a message with the same id is already stored.
	ErrDuplicateID = errors.New("duplicate message id")

	// ErrBackend indicates a failure of the underlying storage engine.
	ErrBackend = errors.New("backend error")
)

// MalformedStreamNameError is returned before any storage access when a stream
// name cannot be parsed.
type MalformedStreamNameError struct {
	Name   string
	Reason string
}

func (e *MalformedStreamNameError) Error() string {
	return fmt.Sprintf("malformed stream name %q: %s", e.Name, e.Reason)
}

// Is reports whether target is ErrMalformedStreamName.
func (e *MalformedStreamNameError) Is(target error) bool {
	return target == ErrMalformedStreamName
}

// PositionConflictError is returned when ExpectedPosition is not last position + 1.
// Nothing is written. Callers re-read the stream and retry with a fresh position.
type PositionConflictError struct {
	StreamName string
	Expected   uint64
	// Actual is the last committed position, -1 for an empty stream.
	Actual int64
}

func (e *PositionConflictError) Error() string {
	return fmt.Sprintf("stream %q: expected position %d, last position is %d",
		e.StreamName, e.Expected, e.Actual)
}

// Is reports whether target is ErrPositionConflict.
func (e *PositionConflictError) Is(target error) bool {
	return target == ErrPositionConflict
}

// DuplicateIDError is returned when the id of an appended message already exists.
// Existing is the stored message, so callers can treat a redelivery as success.
type DuplicateIDError struct {
	Existing *Message
	ID       string
}

func (e *DuplicateIDError) Error() string {
	if e.Existing != nil {
		return fmt.Sprintf("message id %q already stored at global position %d in stream %q",
			e.ID, e.Existing.GlobalPosition, e.Existing.StreamName)
	}
	return fmt.Sprintf("message id %q already stored", e.ID)
}

// Is reports whether target is ErrDuplicateID.
func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrDuplicateID
}

// BackendError wraps a storage engine failure.
type BackendError struct {
	Err error
	Op  string
}

// NewBackendError wraps err for op. It returns nil for a nil err and leaves
// errors that already carry a store classification untouched.
func NewBackendError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackend) || errors.Is(err, ErrPositionConflict) ||
		errors.Is(err, ErrDuplicateID) || errors.Is(err, ErrMalformedStreamName) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrBackend.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

// AsDuplicate returns the existing message when err reports a duplicate id.
func AsDuplicate(err error) (*Message, bool) {
	var dup *DuplicateIDError
	if errors.As(err, &dup) {
		return dup.Existing, true
	}
	return nil, false
}

// AsPositionConflict returns the conflict details when err reports a position conflict.
func AsPositionConflict(err error) (*PositionConflictError, bool) {
	var conflict *PositionConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
