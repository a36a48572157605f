package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/ordering"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("store closed")

// Store appends and reads messages through a Backend.
// It is safe for concurrent use.
type Store struct {
	backend Backend
	config  StoreConfig
	caps    Capabilities
}

// NewStore creates a store over backend. The store takes ownership of backend
// and closes it on Close.
func NewStore(backend Backend, config StoreConfig) *Store {
	if config.Metrics == nil {
		config.Metrics = NopMetrics{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.PageSize <= 0 || config.PageSize > MaxReadLimit {
		config.PageSize = DefaultPageSize
	}
	return &Store{
		backend: backend,
		config:  config,
		caps:    backend.Capabilities(),
	}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Append writes msg to its stream if msg.ExpectedPosition continues the stream
// and msg.ID is not stored yet. It either commits the message with all its index
// entries or writes nothing.
//
// Errors: *es.MalformedStreamNameError, *es.PositionConflictError,
// *es.DuplicateIDError, or *es.BackendError.
func (s *Store) Append(ctx context.Context, msg es.NewMessage) (es.Message, error) {
	start := time.Now()
	committed, err := s.append(ctx, msg)
	outcome := Outcome(err)
	s.config.Metrics.ObserveAppend(outcome, time.Since(start))

	if s.config.Logger != nil {
		if err != nil {
			s.config.Logger.Error(ctx, "append failed",
				"stream_name", msg.StreamName,
				"expected_position", msg.ExpectedPosition,
				"outcome", outcome,
				"error", err)
		} else {
			s.config.Logger.Debug(ctx, "message appended",
				"stream_name", committed.StreamName,
				"position", committed.Position,
				"global_position", committed.GlobalPosition,
				"ord", committed.Ord)
		}
	}
	return committed, err
}

func (s *Store) append(ctx context.Context, msg es.NewMessage) (es.Message, error) {
	// Validating
	sn, err := es.ParseStreamName(msg.StreamName)
	if err != nil {
		return es.Message{}, err
	}
	if err = ctx.Err(); err != nil {
		return es.Message{}, err
	}

	id := msg.ID
	if id == "" {
		if id, err = es.NewMessageID(); err != nil {
			return es.Message{}, fmt.Errorf("failed to generate message id: %w", err)
		}
	}

	// Data is never nil once stored.
	data := msg.Data
	if data == nil {
		data = []byte{}
	}

	now := s.config.Clock().UTC().Truncate(time.Millisecond)
	correlation, _ := es.CorrelationCategory(msg.Metadata)
	draft := Draft{
		Time:                now,
		StreamName:          msg.StreamName,
		Category:            sn.Category,
		MessageType:         msg.MessageType,
		ID:                  id,
		CorrelationCategory: correlation,
		Data:                data,
		Metadata:            msg.Metadata,
		Position:            msg.ExpectedPosition,
		ProvisionalOrd:      ordering.Provisional(now),
	}

	tx, err := s.backend.BeginAppend(ctx, msg.StreamName, id)
	if err != nil {
		return es.Message{}, es.NewBackendError("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	// PositionChecking
	if !s.caps.EnforcesPositionSequencing {
		last, err := tx.LastPosition(ctx)
		if err != nil {
			return es.Message{}, es.NewBackendError("read last position", err)
		}
		if last+1 != int64(msg.ExpectedPosition) {
			return es.Message{}, &es.PositionConflictError{
				StreamName: msg.StreamName,
				Expected:   msg.ExpectedPosition,
				Actual:     last,
			}
		}
	}

	// IdChecking
	if !s.caps.EnforcesIDUniqueness {
		existing, err := tx.LookupID(ctx, id)
		if err != nil {
			return es.Message{}, es.NewBackendError("look up id", err)
		}
		if existing != nil {
			return es.Message{}, &es.DuplicateIDError{ID: id, Existing: existing}
		}
	}

	// Committing
	committed, err := tx.Commit(ctx, draft)
	if err != nil {
		return es.Message{}, es.NewBackendError("commit", err)
	}
	return committed, nil
}
