// Package store provides the message store: the append state machine, paginated
// readers, and the Backend contract that storage realizations implement.
package store

import (
	"context"
	"time"

	"github.com/getpup/messtore/es"
)

// Capabilities declares which invariants a backend enforces natively.
// The Writer performs the checks a backend leaves to it.
type Capabilities struct {
	// EnforcesPositionSequencing means the backend rejects an insert whose position
	// does not continue its stream, reporting *es.PositionConflictError.
	EnforcesPositionSequencing bool

	// EnforcesIDUniqueness means the backend rejects a duplicate id, reporting
	// *es.DuplicateIDError.
	EnforcesIDUniqueness bool
}

// Draft is a validated message ready to commit.
type Draft struct {
	Time time.Time

	StreamName  string
	Category    string
	MessageType string
	ID          string

	// CorrelationCategory is empty when the metadata carries no correlation.
	CorrelationCategory string

	Data     []byte
	Metadata []byte

	// Position is the expected (and, on success, assigned) stream position.
	Position uint64

	// ProvisionalOrd is the negative clock-derived ord, resolved on commit.
	ProvisionalOrd int64
}

// AppendTx is the boundary of a single append. It covers at least the target
// stream: no other append to that stream commits between BeginAppend and
// Commit or Rollback.
type AppendTx interface {
	// LastPosition returns the highest committed position of the stream, or -1.
	LastPosition(ctx context.Context) (int64, error)

	// LookupID returns the message stored under id, or nil.
	LookupID(ctx context.Context, id string) (*es.Message, error)

	// Commit assigns the global position and ord and writes the message with all
	// its index entries atomically.
	Commit(ctx context.Context, draft Draft) (es.Message, error)

	// Rollback releases the boundary. It is a no-op after Commit.
	Rollback() error
}

// CategoryQuery selects messages of a category in global position order.
type CategoryQuery struct {
	Category string

	// Correlation, when set, keeps only messages whose metadata correlates to
	// a stream of this category.
	Correlation string

	FromGlobalPosition uint64
	Limit              int
}

// Backend is a durable storage realization.
//
// Read methods return at most limit messages starting at the given position
// (inclusive). They never return messages of an append that has not fully
// committed.
type Backend interface {
	Capabilities() Capabilities

	BeginAppend(ctx context.Context, streamName, id string) (AppendTx, error)

	ReadStream(ctx context.Context, streamName string, fromPosition uint64, limit int) ([]es.Message, error)
	ReadCategory(ctx context.Context, query CategoryQuery) ([]es.Message, error)
	ReadAll(ctx context.Context, fromGlobalPosition uint64, limit int) ([]es.Message, error)
	ReadLast(ctx context.Context, streamName string) (*es.Message, error)
	ReadByID(ctx context.Context, id string) (*es.Message, error)

	Close() error
}
