// Package kv provides a message store backend on the Pebble key-value engine.
//
// Pebble has no triggers or constraints, so the backend leaves the position
// and id checks to the Writer (see store.Capabilities) and supplies what makes
// them safe: a per-stream and per-id lock held from BeginAppend to Commit, a
// lock-free sequencer for global positions and ords, and a single synced batch
// that writes the record with all of its index entries.
package kv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/ordering"
	"github.com/getpup/messtore/es/store"
)

const (
	schemaVersion    = 1
	schemaVersionKey = "schema_version"
)

// ErrSchemaVersion is returned when a directory holds data of another layout.
var ErrSchemaVersion = errors.New("kv: unsupported schema version")

// StoreConfig contains configuration for the key-value backend.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// PebbleOptions are passed to pebble.Open. Nil uses Pebble's defaults.
	PebbleOptions *pebble.Options

	// LockStripes is the number of mutexes in each of the stream and id lock tables.
	LockStripes int

	// NoSync commits batches without waiting for the WAL to be synced.
	// Appends stay atomic but the latest ones may be lost on power failure.
	NoSync bool
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		LockStripes: DefaultLockStripes,
	}
}

// StoreOption is a functional option for configuring a Backend.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the backend.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithPebbleOptions sets the options passed to pebble.Open.
func WithPebbleOptions(opts *pebble.Options) StoreOption {
	return func(c *StoreConfig) {
		c.PebbleOptions = opts
	}
}

// WithLockStripes sets the lock table size.
func WithLockStripes(n int) StoreOption {
	return func(c *StoreConfig) {
		c.LockStripes = n
	}
}

// WithNoSync disables fsync on commit.
func WithNoSync() StoreOption {
	return func(c *StoreConfig) {
		c.NoSync = true
	}
}

// NewStoreConfig creates a new configuration with functional options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Backend is a store.Backend over a Pebble database.
type Backend struct {
	db          *pebble.DB
	seq         *ordering.Sequencer
	visibility  *watermark
	streamLocks *lockTable
	idLocks     *lockTable
	writeOpts   *pebble.WriteOptions
	config      StoreConfig

	// closeMu is held shared by every operation and exclusively by Close.
	closeMu sync.RWMutex
	closed  bool
}

// Open opens or creates a store in dir and restores the sequencer from the
// last committed global position and ord.
func Open(ctx context.Context, dir string, config StoreConfig) (*Backend, error) {
	opts := config.PebbleOptions
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}

	b := &Backend{
		db:          db,
		streamLocks: newLockTable(config.LockStripes),
		idLocks:     newLockTable(config.LockStripes),
		writeOpts:   pebble.Sync,
		config:      config,
	}
	if config.NoSync {
		b.writeOpts = pebble.NoSync
	}

	if err := b.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	last, err := b.recover()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	b.seq = ordering.NewSequencer(last)
	b.visibility = newWatermark(last.GlobalPosition)

	if config.Logger != nil {
		config.Logger.Info(ctx, "kv store opened",
			"dir", dir,
			"global_position", last.GlobalPosition,
			"ord", last.Ord)
	}
	return b, nil
}

func (b *Backend) checkSchema() error {
	value, closer, err := b.db.Get(metaKey(schemaVersionKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return b.db.Set(metaKey(schemaVersionKey), encodeUint64(schemaVersion), pebble.Sync)
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	defer closer.Close()

	version, err := decodeUint64(value)
	if err != nil || version != schemaVersion {
		return fmt.Errorf("%w: %d", ErrSchemaVersion, version)
	}
	return nil
}

// recover finds the highest committed global position and ord.
func (b *Backend) recover() (ordering.Assignment, error) {
	var last ordering.Assignment

	gp, found, err := b.lastKeyUint64(prefixGlobal)
	if err != nil {
		return last, fmt.Errorf("failed to recover global position: %w", err)
	}
	if found {
		last.GlobalPosition = gp
	}

	ord, found, err := b.lastKeyUint64(prefixOrd)
	if err != nil {
		return last, fmt.Errorf("failed to recover ord: %w", err)
	}
	if found {
		last.Ord = ord
	}
	return last, nil
}

func (b *Backend) lastKeyUint64(prefix byte) (uint64, bool, error) {
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefix},
		UpperBound: []byte{prefix + 1},
	})
	if err != nil {
		return 0, false, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, false, iter.Error()
	}
	v, err := decodeUint64(iter.Key())
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// Capabilities implements store.Backend. The Writer performs both checks.
func (b *Backend) Capabilities() store.Capabilities {
	return store.Capabilities{}
}

// acquire registers an operation against Close.
func (b *Backend) acquire() error {
	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return store.ErrClosed
	}
	return nil
}

func (b *Backend) release() {
	b.closeMu.RUnlock()
}

// BeginAppend implements store.Backend. It locks the stream and the id until
// the returned transaction commits or rolls back.
func (b *Backend) BeginAppend(ctx context.Context, streamName, id string) (store.AppendTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.acquire(); err != nil {
		return nil, err
	}

	streamMu := b.streamLocks.stripe(streamName)
	idMu := b.idLocks.stripe(id)
	streamMu.Lock()
	idMu.Lock()

	return &appendTx{
		backend:    b,
		streamName: streamName,
		unlock: func() {
			idMu.Unlock()
			streamMu.Unlock()
			b.release()
		},
	}, nil
}

type appendTx struct {
	backend    *Backend
	unlock     func()
	streamName string
	done       bool
}

func (tx *appendTx) LastPosition(_ context.Context) (int64, error) {
	m, err := tx.backend.readLast(tx.backend.db, tx.streamName)
	if err != nil {
		return 0, err
	}
	if m == nil {
		return -1, nil
	}
	return int64(m.Position), nil
}

func (tx *appendTx) LookupID(_ context.Context, id string) (*es.Message, error) {
	return tx.backend.readByID(tx.backend.db, id)
}

func (tx *appendTx) Commit(ctx context.Context, d store.Draft) (es.Message, error) {
	if tx.done {
		return es.Message{}, errors.New("kv: append already finished")
	}
	defer tx.finish()

	if err := ctx.Err(); err != nil {
		return es.Message{}, err
	}

	b := tx.backend
	assigned, err := b.seq.Next(d.ProvisionalOrd)
	if err != nil {
		return es.Message{}, err
	}
	// Settle the position whatever happens, so global scans are never held back
	// by a failed write.
	defer b.visibility.Complete(assigned.GlobalPosition)

	m := es.Message{
		Time:           d.Time,
		StreamName:     d.StreamName,
		MessageType:    d.MessageType,
		ID:             d.ID,
		Data:           d.Data,
		Metadata:       d.Metadata,
		GlobalPosition: assigned.GlobalPosition,
		Position:       d.Position,
		Ord:            assigned.Ord,
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	sk := streamKey(d.StreamName, d.Position)
	gp := encodeUint64(assigned.GlobalPosition)
	entries := [][2][]byte{
		{sk, encodeRecord(&m)},
		{globalKey(assigned.GlobalPosition), sk},
		{categoryKey(d.Category, assigned.GlobalPosition), sk},
		{ordKey(assigned.Ord), gp},
		{idKey(d.ID), gp},
	}
	if d.CorrelationCategory != "" {
		entries = append(entries, [2][]byte{correlationKey(d.Category, d.CorrelationCategory, assigned.GlobalPosition), sk})
	}
	for _, e := range entries {
		if err := batch.Set(e[0], e[1], nil); err != nil {
			return es.Message{}, fmt.Errorf("failed to stage batch: %w", err)
		}
	}

	if err := batch.Commit(b.writeOpts); err != nil {
		if b.config.Logger != nil {
			b.config.Logger.Error(ctx, "kv batch commit failed",
				"stream_name", d.StreamName,
				"global_position", assigned.GlobalPosition,
				"error", err)
		}
		return es.Message{}, fmt.Errorf("failed to commit batch: %w", err)
	}
	return m, nil
}

func (tx *appendTx) Rollback() error {
	tx.finish()
	return nil
}

func (tx *appendTx) finish() {
	if !tx.done {
		tx.done = true
		tx.unlock()
	}
}

// reader is implemented by *pebble.DB and *pebble.Snapshot.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// ReadStream implements store.Backend.
func (b *Backend) ReadStream(_ context.Context, streamName string, fromPosition uint64, limit int) ([]es.Message, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.release()

	prefix := streamPrefix(streamName)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []es.Message
	for valid := iter.SeekGE(streamKey(streamName, fromPosition)); valid && len(out) < limit; valid = iter.Next() {
		m, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// ReadCategory implements store.Backend.
func (b *Backend) ReadCategory(_ context.Context, q store.CategoryQuery) ([]es.Message, error) {
	prefix := categoryPrefix(q.Category)
	if q.Correlation != "" {
		prefix = correlationPrefix(q.Category, q.Correlation)
	}
	return b.scanIndex(prefix, q.FromGlobalPosition, q.Limit)
}

// ReadAll implements store.Backend.
func (b *Backend) ReadAll(_ context.Context, fromGlobalPosition uint64, limit int) ([]es.Message, error) {
	return b.scanIndex([]byte{prefixGlobal}, fromGlobalPosition, limit)
}

// scanIndex walks an index whose keys end in a global position and whose
// values are stream keys, stopping at the visibility watermark.
func (b *Backend) scanIndex(prefix []byte, from uint64, limit int) ([]es.Message, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.release()

	visible := b.visibility.Visible()
	if from > visible {
		return nil, nil
	}

	snap := b.db.NewSnapshot()
	defer snap.Close()

	iter, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []es.Message
	for valid := iter.SeekGE(appendUint64(append([]byte(nil), prefix...), from)); valid && len(out) < limit; valid = iter.Next() {
		gp, err := decodeUint64(iter.Key())
		if err != nil {
			return nil, err
		}
		if gp > visible {
			break
		}
		m, err := b.getRecord(snap, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

func (b *Backend) getRecord(r reader, key []byte) (es.Message, error) {
	value, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return es.Message{}, fmt.Errorf("%w: dangling index entry for %q", errCorruptRecord, key)
		}
		return es.Message{}, err
	}
	defer closer.Close()
	return decodeRecord(value)
}

// ReadLast implements store.Backend.
func (b *Backend) ReadLast(_ context.Context, streamName string) (*es.Message, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.release()
	return b.readLast(b.db, streamName)
}

func (b *Backend) readLast(r reader, streamName string) (*es.Message, error) {
	prefix := streamPrefix(streamName)
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, iter.Error()
	}
	m, err := decodeRecord(iter.Value())
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadByID implements store.Backend.
func (b *Backend) ReadByID(_ context.Context, id string) (*es.Message, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.release()
	return b.readByID(b.db, id)
}

func (b *Backend) readByID(r reader, id string) (*es.Message, error) {
	gp, err := b.getUint64(r, idKey(id))
	if err != nil || gp == 0 {
		return nil, err
	}

	value, closer, err := r.Get(globalKey(gp))
	if err != nil {
		return nil, err
	}
	sk := cloneBytes(value)
	closer.Close()

	m, err := b.getRecord(r, sk)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// getUint64 returns 0 when key is absent.
func (b *Backend) getUint64(r reader, key []byte) (uint64, error) {
	value, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return decodeUint64(value)
}

// GetCheckpoint implements projection.CheckpointStore.
func (b *Backend) GetCheckpoint(_ context.Context, name string) (uint64, error) {
	if err := b.acquire(); err != nil {
		return 0, err
	}
	defer b.release()
	return b.getUint64(b.db, checkpointKey(name))
}

// UpdateCheckpoint implements projection.CheckpointStore.
func (b *Backend) UpdateCheckpoint(_ context.Context, name string, globalPosition uint64) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.release()
	return b.db.Set(checkpointKey(name), encodeUint64(globalPosition), b.writeOpts)
}

// Close waits for in-flight operations and closes the database.
func (b *Backend) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

var _ store.Backend = (*Backend)(nil)
