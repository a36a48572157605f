// Package sqlbackend implements store.Backend over database/sql for the
// relational adapters.
//
// The schema installed by the migrations package enforces both the stream
// position and the id uniqueness, so the backend reports both capabilities and
// only translates the database's rejections into the es error types. The
// correlation category is bound from the draft, so category reads filter on the
// same value every backend computes. Dialects
// supply placeholder syntax, error classification and the checkpoint upsert.
package sqlbackend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/ordering"
	"github.com/getpup/messtore/es/store"
)

// ErrSchema is returned when the installed schema did not assign what an
// append needs.
var ErrSchema = errors.New("sqlbackend: schema did not resolve the append")

// ErrorKind classifies an insert failure.
type ErrorKind int

const (
	// ErrorOther is any failure the backend does not translate.
	ErrorOther ErrorKind = iota

	// ErrorPositionMismatch is a rejected stream position, raised by the
	// position trigger or the (stream_name, position) unique index.
	ErrorPositionMismatch

	// ErrorDuplicateID is a violation of the unique index on id.
	ErrorDuplicateID
)

// PositionMismatchMessage is the text the position triggers raise.
const PositionMismatchMessage = "stream position mismatch"

// Dialect adapts queries and errors to one database engine.
type Dialect interface {
	// Rebind rewrites '?' placeholders into the engine's syntax.
	Rebind(query string) string

	// Classify inspects an insert error against the messages table.
	Classify(err error, messagesTable string) ErrorKind

	// UpsertCheckpoint returns the statement that stores a consumer position.
	// Its arguments are consumer name and global position.
	UpsertCheckpoint(checkpointsTable string) string
}

// Config contains configuration for a relational backend.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	Dialect Dialect

	MessagesTable    string
	CheckpointsTable string
}

const columns = "global_position, position, time, stream_name, message_type, data, metadata, id, ord"

// Backend is a relational store.Backend.
type Backend struct {
	writer *sql.DB
	reader *sql.DB
	config Config

	closeMu sync.RWMutex
	closed  bool
}

// New wraps writer and reader. Appends run on writer, reads on reader; they may
// be the same pool. Close closes both.
func New(writer, reader *sql.DB, config Config) *Backend {
	if reader == nil {
		reader = writer
	}
	return &Backend{
		writer: writer,
		reader: reader,
		config: config,
	}
}

// Capabilities implements store.Backend.
func (b *Backend) Capabilities() store.Capabilities {
	return store.Capabilities{
		EnforcesPositionSequencing: true,
		EnforcesIDUniqueness:       true,
	}
}

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

func (b *Backend) q(query string) string {
	return b.config.Dialect.Rebind(query)
}

// BeginAppend implements store.Backend.
func (b *Backend) BeginAppend(ctx context.Context, streamName, _ string) (store.AppendTx, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	tx, err := b.writer.BeginTx(ctx, nil)
	if err != nil {
		b.release()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &appendTx{backend: b, tx: tx, streamName: streamName}, nil
}

type appendTx struct {
	backend    *Backend
	tx         *sql.Tx
	streamName string
	done       bool
}

func (tx *appendTx) LastPosition(ctx context.Context) (int64, error) {
	return tx.backend.lastPosition(ctx, tx.tx, tx.streamName)
}

func (tx *appendTx) LookupID(ctx context.Context, id string) (*es.Message, error) {
	return tx.backend.readByID(ctx, tx.tx, id)
}

func (tx *appendTx) Commit(ctx context.Context, d store.Draft) (es.Message, error) {
	if tx.done {
		return es.Message{}, errors.New("sqlbackend: append already finished")
	}
	b := tx.backend

	data := d.Data
	if data == nil {
		data = []byte{}
	}
	var metadata, correlation any
	if d.Metadata != nil {
		metadata = string(d.Metadata)
	}
	if d.CorrelationCategory != "" {
		correlation = d.CorrelationCategory
	}

	insert := fmt.Sprintf(`INSERT INTO %s (position, time, stream_name, message_type, data, metadata, correlation_category, id, ord)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, b.config.MessagesTable)
	_, err := tx.tx.ExecContext(ctx, b.q(insert),
		int64(d.Position), d.Time.UnixMilli(), d.StreamName, d.MessageType, data, metadata, correlation, d.ID, d.ProvisionalOrd)
	if err != nil {
		tx.finish()
		return es.Message{}, b.translate(ctx, d, err)
	}

	var gp, ord int64
	assigned := fmt.Sprintf(`SELECT global_position, ord FROM %s WHERE id = ?`, b.config.MessagesTable)
	if err := tx.tx.QueryRowContext(ctx, b.q(assigned), d.ID).Scan(&gp, &ord); err != nil {
		tx.finish()
		return es.Message{}, fmt.Errorf("failed to read assigned positions: %w", err)
	}
	if ordering.IsProvisional(ord) {
		tx.finish()
		return es.Message{}, fmt.Errorf("%w: ord %d of %s left unresolved by the schema", ErrSchema, ord, d.ID)
	}

	err = tx.tx.Commit()
	tx.done = true
	b.release()
	if err != nil {
		return es.Message{}, fmt.Errorf("failed to commit: %w", err)
	}

	if b.config.Logger != nil {
		b.config.Logger.Debug(ctx, "message committed",
			"stream_name", d.StreamName,
			"position", d.Position,
			"global_position", gp)
	}

	return es.Message{
		Time:           d.Time,
		StreamName:     d.StreamName,
		MessageType:    d.MessageType,
		ID:             d.ID,
		Data:           data,
		Metadata:       d.Metadata,
		GlobalPosition: uint64(gp),
		Position:       d.Position,
		Ord:            uint64(ord),
	}, nil
}

func (tx *appendTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

func (tx *appendTx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	_ = tx.tx.Rollback()
	tx.backend.release()
}

// translate maps an insert failure to the es error types. The transaction is
// already rolled back, so the current state is read from the reader pool.
func (b *Backend) translate(ctx context.Context, d store.Draft, err error) error {
	switch b.config.Dialect.Classify(err, b.config.MessagesTable) {
	case ErrorPositionMismatch:
		conflict := &es.PositionConflictError{
			StreamName: d.StreamName,
			Expected:   d.Position,
			Actual:     -1,
		}
		if actual, qerr := b.lastPosition(ctx, b.reader, d.StreamName); qerr == nil {
			conflict.Actual = actual
		}
		if b.config.Logger != nil {
			b.config.Logger.Error(ctx, "stream position conflict",
				"stream_name", d.StreamName,
				"expected_position", d.Position,
				"actual_position", conflict.Actual)
		}
		return conflict
	case ErrorDuplicateID:
		existing, qerr := b.readByID(ctx, b.reader, d.ID)
		if qerr != nil {
			existing = nil
		}
		if b.config.Logger != nil {
			b.config.Logger.Error(ctx, "duplicate message id", "id", d.ID)
		}
		return &es.DuplicateIDError{ID: d.ID, Existing: existing}
	default:
		return fmt.Errorf("failed to insert message: %w", err)
	}
}

func (b *Backend) lastPosition(ctx context.Context, db es.DBTX, streamName string) (int64, error) {
	query := fmt.Sprintf(`SELECT MAX(position) FROM %s WHERE stream_name = ?`, b.config.MessagesTable)
	var last sql.NullInt64
	if err := db.QueryRowContext(ctx, b.q(query), streamName).Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to read last position: %w", err)
	}
	if !last.Valid {
		return -1, nil
	}
	return last.Int64, nil
}

// ReadStream implements store.Backend.
func (b *Backend) ReadStream(ctx context.Context, streamName string, fromPosition uint64, limit int) ([]es.Message, error) {
	if b.config.Logger != nil {
		b.config.Logger.Debug(ctx, "reading stream",
			"stream_name", streamName, "from_position", fromPosition, "limit", limit)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE stream_name = ? AND position >= ?
		ORDER BY position ASC
		LIMIT ?`, columns, b.config.MessagesTable)
	return b.query(ctx, query, streamName, int64(fromPosition), limit)
}

// ReadCategory implements store.Backend.
func (b *Backend) ReadCategory(ctx context.Context, q store.CategoryQuery) ([]es.Message, error) {
	if b.config.Logger != nil {
		b.config.Logger.Debug(ctx, "reading category",
			"category", q.Category, "correlation", q.Correlation,
			"from_global_position", q.FromGlobalPosition, "limit", q.Limit)
	}
	args := []any{q.Category, int64(q.FromGlobalPosition)}
	filter := ""
	if q.Correlation != "" {
		filter = " AND correlation_category = ?"
		args = append(args, q.Correlation)
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE category = ? AND global_position >= ?%s
		ORDER BY global_position ASC
		LIMIT ?`, columns, b.config.MessagesTable, filter)
	return b.query(ctx, query, args...)
}

// ReadAll implements store.Backend.
func (b *Backend) ReadAll(ctx context.Context, fromGlobalPosition uint64, limit int) ([]es.Message, error) {
	if b.config.Logger != nil {
		b.config.Logger.Debug(ctx, "reading all messages",
			"from_global_position", fromGlobalPosition, "limit", limit)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE global_position >= ?
		ORDER BY global_position ASC
		LIMIT ?`, columns, b.config.MessagesTable)
	return b.query(ctx, query, int64(fromGlobalPosition), limit)
}

// ReadLast implements store.Backend.
func (b *Backend) ReadLast(ctx context.Context, streamName string) (*es.Message, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.release()

	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE stream_name = ?
		ORDER BY position DESC
		LIMIT 1`, columns, b.config.MessagesTable)
	return b.queryOne(ctx, b.reader, query, streamName)
}

// ReadByID implements store.Backend.
func (b *Backend) ReadByID(ctx context.Context, id string) (*es.Message, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.release()
	return b.readByID(ctx, b.reader, id)
}

func (b *Backend) readByID(ctx context.Context, db es.DBTX, id string) (*es.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, columns, b.config.MessagesTable)
	return b.queryOne(ctx, db, query, id)
}

func (b *Backend) query(ctx context.Context, query string, args ...any) ([]es.Message, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.release()

	rows, err := b.reader.QueryContext(ctx, b.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []es.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func (b *Backend) queryOne(ctx context.Context, db es.DBTX, query string, args ...any) (*es.Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, b.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (es.Message, error) {
	var (
		m           es.Message
		gp, pos, ms int64
		ord         int64
		metadata    sql.NullString
		data        []byte
	)
	err := row.Scan(&gp, &pos, &ms, &m.StreamName, &m.MessageType, &data, &metadata, &m.ID, &ord)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, err
		}
		return m, fmt.Errorf("failed to scan message: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	m.Data = data
	if metadata.Valid {
		m.Metadata = []byte(metadata.String)
	}
	m.GlobalPosition = uint64(gp)
	m.Position = uint64(pos)
	m.Ord = uint64(ord)
	m.Time = time.UnixMilli(ms).UTC()
	return m, nil
}

// GetCheckpoint implements projection.CheckpointStore.
func (b *Backend) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	if err := b.acquire(); err != nil {
		return 0, err
	}
	defer b.release()

	query := fmt.Sprintf(`SELECT last_global_position FROM %s WHERE consumer_name = ?`, b.config.CheckpointsTable)
	var gp int64
	err := b.reader.QueryRowContext(ctx, b.q(query), name).Scan(&gp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return uint64(gp), nil
}

// UpdateCheckpoint implements projection.CheckpointStore.
func (b *Backend) UpdateCheckpoint(ctx context.Context, name string, globalPosition uint64) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.release()

	query := b.config.Dialect.UpsertCheckpoint(b.config.CheckpointsTable)
	if _, err := b.writer.ExecContext(ctx, query, name, int64(globalPosition)); err != nil {
		return fmt.Errorf("failed to update checkpoint: %w", err)
	}
	return nil
}

// Close implements store.Backend.
func (b *Backend) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.writer.Close()
	if b.reader != b.writer {
		err = errors.Join(err, b.reader.Close())
	}
	return err
}

// QuestionMarks is the Rebind of engines that use '?' placeholders.
func QuestionMarks(query string) string {
	return query
}

// DollarPlaceholders rewrites '?' into $1, $2, ...
func DollarPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
