// Package memory provides an in-process Backend for tests and examples.
//
// It enforces nothing itself, so every invariant check runs in the Writer,
// the same way it does for the key-value backend.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/ordering"
	"github.com/getpup/messtore/es/store"
)

// Backend keeps all messages in memory. Appends are serialized by one mutex.
type Backend struct {
	streams     map[string][]int
	ids         map[string]int
	checkpoints map[string]uint64
	messages    []es.Message
	seq         *ordering.Sequencer
	mu          sync.RWMutex
	closed      bool
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		streams:     make(map[string][]int),
		ids:         make(map[string]int),
		checkpoints: make(map[string]uint64),
		seq:         ordering.NewSequencer(ordering.Assignment{}),
	}
}

// Capabilities implements store.Backend.
func (b *Backend) Capabilities() store.Capabilities {
	return store.Capabilities{}
}

// BeginAppend implements store.Backend.
func (b *Backend) BeginAppend(ctx context.Context, streamName, _ string) (store.AppendTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, store.ErrClosed
	}
	return &appendTx{backend: b, streamName: streamName}, nil
}

type appendTx struct {
	backend    *Backend
	streamName string
	done       bool
}

func (tx *appendTx) LastPosition(_ context.Context) (int64, error) {
	indexes := tx.backend.streams[tx.streamName]
	return int64(len(indexes)) - 1, nil
}

func (tx *appendTx) LookupID(_ context.Context, id string) (*es.Message, error) {
	i, ok := tx.backend.ids[id]
	if !ok {
		return nil, nil
	}
	m := tx.backend.messages[i]
	return &m, nil
}

func (tx *appendTx) Commit(_ context.Context, d store.Draft) (es.Message, error) {
	b := tx.backend
	assigned, err := b.seq.Next(d.ProvisionalOrd)
	if err != nil {
		return es.Message{}, err
	}

	m := es.Message{
		Time:           d.Time,
		StreamName:     d.StreamName,
		MessageType:    d.MessageType,
		ID:             d.ID,
		Data:           append([]byte{}, d.Data...),
		Metadata:       slices.Clone(d.Metadata),
		GlobalPosition: assigned.GlobalPosition,
		Position:       d.Position,
		Ord:            assigned.Ord,
	}
	b.messages = append(b.messages, m)
	idx := len(b.messages) - 1
	b.streams[d.StreamName] = append(b.streams[d.StreamName], idx)
	b.ids[d.ID] = idx

	tx.release()
	return m, nil
}

func (tx *appendTx) Rollback() error {
	tx.release()
	return nil
}

func (tx *appendTx) release() {
	if !tx.done {
		tx.done = true
		tx.backend.mu.Unlock()
	}
}

// ReadStream implements store.Backend.
func (b *Backend) ReadStream(_ context.Context, streamName string, fromPosition uint64, limit int) ([]es.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	indexes := b.streams[streamName]
	var out []es.Message
	for pos := fromPosition; pos < uint64(len(indexes)) && len(out) < limit; pos++ {
		out = append(out, b.messages[indexes[pos]])
	}
	return out, nil
}

// ReadCategory implements store.Backend.
func (b *Backend) ReadCategory(_ context.Context, q store.CategoryQuery) ([]es.Message, error) {
	return b.scan(q.FromGlobalPosition, q.Limit, func(m *es.Message) bool {
		if m.Category() != q.Category {
			return false
		}
		if q.Correlation == "" {
			return true
		}
		correlation, ok := m.CorrelationCategory()
		return ok && correlation == q.Correlation
	}), nil
}

// ReadAll implements store.Backend.
func (b *Backend) ReadAll(_ context.Context, fromGlobalPosition uint64, limit int) ([]es.Message, error) {
	return b.scan(fromGlobalPosition, limit, func(*es.Message) bool { return true }), nil
}

func (b *Backend) scan(from uint64, limit int, match func(*es.Message) bool) []es.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Global positions start at 1 and have no gaps here.
	start := 0
	if from > 1 {
		start = int(from - 1)
	}
	var out []es.Message
	for i := start; i < len(b.messages) && len(out) < limit; i++ {
		if match(&b.messages[i]) {
			out = append(out, b.messages[i])
		}
	}
	return out
}

// ReadLast implements store.Backend.
func (b *Backend) ReadLast(_ context.Context, streamName string) (*es.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	indexes := b.streams[streamName]
	if len(indexes) == 0 {
		return nil, nil
	}
	m := b.messages[indexes[len(indexes)-1]]
	return &m, nil
}

// ReadByID implements store.Backend.
func (b *Backend) ReadByID(_ context.Context, id string) (*es.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i, ok := b.ids[id]
	if !ok {
		return nil, nil
	}
	m := b.messages[i]
	return &m, nil
}

// GetCheckpoint implements projection.CheckpointStore.
func (b *Backend) GetCheckpoint(_ context.Context, name string) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.checkpoints[name], nil
}

// UpdateCheckpoint implements projection.CheckpointStore.
func (b *Backend) UpdateCheckpoint(_ context.Context, name string, globalPosition uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkpoints[name] = globalPosition
	return nil
}

// Close implements store.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

var _ store.Backend = (*Backend)(nil)
