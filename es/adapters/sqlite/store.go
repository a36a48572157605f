// Package sqlite provides a message store backend on SQLite (modernc.org/sqlite,
// no cgo).
//
// Appends go through a single writer connection; reads use a separate pool
// that WAL mode lets run alongside the writer. Position and id checks are
// enforced by the schema's trigger and unique indexes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/adapters/sqlbackend"
	"github.com/getpup/messtore/es/migrations"
)

// ErrSchemaVersion is returned when a database file holds a newer schema.
var ErrSchemaVersion = errors.New("sqlite: unsupported schema version")

// StoreConfig contains configuration for the SQLite backend.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// MessagesTable is the name of the messages table
	MessagesTable string

	// CheckpointsTable is the name of the consumer checkpoints table
	CheckpointsTable string

	// BusyTimeout is how long a connection waits on a lock held by another
	// process before failing.
	BusyTimeout time.Duration

	// ReadConns is the size of the read pool.
	ReadConns int
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MessagesTable:    "messages",
		CheckpointsTable: "message_checkpoints",
		BusyTimeout:      5 * time.Second,
		ReadConns:        4,
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

// WithMessagesTable sets a custom messages table name.
func WithMessagesTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.MessagesTable = tableName
	}
}

// WithCheckpointsTable sets a custom checkpoints table name.
func WithCheckpointsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.CheckpointsTable = tableName
	}
}

// WithBusyTimeout sets the lock wait timeout.
func WithBusyTimeout(d time.Duration) StoreOption {
	return func(c *StoreConfig) {
		c.BusyTimeout = d
	}
}

// WithReadConns sets the read pool size.
func WithReadConns(n int) StoreOption {
	return func(c *StoreConfig) {
		c.ReadConns = n
	}
}

// NewStoreConfig creates a new store configuration with functional options.
// It starts with the default configuration and applies the given options.
//
// Example:
//
//	config := sqlite.NewStoreConfig(
//	    sqlite.WithLogger(myLogger),
//	    sqlite.WithMessagesTable("custom_messages"),
//	)
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.ReadConns < 1 {
		config.ReadConns = 1
	}
	return config
}

// Backend is a SQLite-backed store.Backend.
type Backend struct {
	*sqlbackend.Backend
}

// Open opens or creates the database at path and brings its schema up to date.
func Open(ctx context.Context, path string, config StoreConfig) (*Backend, error) {
	writer, err := sql.Open("sqlite", dsn(path, config, true))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := Migrate(ctx, writer, config); err != nil {
		_ = writer.Close()
		return nil, err
	}

	reader, err := sql.Open("sqlite", dsn(path, config, false))
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to open sqlite reader: %w", err)
	}
	reader.SetMaxOpenConns(config.ReadConns)

	if config.Logger != nil {
		config.Logger.Info(ctx, "sqlite store opened", "path", path)
	}

	return &Backend{
		Backend: sqlbackend.New(writer, reader, sqlbackend.Config{
			Logger:           config.Logger,
			Dialect:          dialect{},
			MessagesTable:    config.MessagesTable,
			CheckpointsTable: config.CheckpointsTable,
		}),
	}, nil
}

func dsn(path string, config StoreConfig, writer bool) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout.Milliseconds()))
	params.Add("_pragma", "foreign_keys(1)")
	if writer {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
		params.Set("_txlock", "immediate")
	} else {
		params.Add("_pragma", "query_only(1)")
	}
	return path + "?" + params.Encode()
}

// Migrate installs the schema unless PRAGMA user_version says it is present.
func Migrate(ctx context.Context, db *sql.DB, config StoreConfig) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	switch {
	case version == migrations.SQLiteVersion:
		return nil
	case version > migrations.SQLiteVersion:
		return fmt.Errorf("%w: %d", ErrSchemaVersion, version)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := migrations.SQLiteStatements(&migrations.Config{
		MessagesTable:    config.MessagesTable,
		CheckpointsTable: config.CheckpointsTable,
	})
	if err := migrations.Apply(ctx, tx, statements); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", migrations.SQLiteVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return tx.Commit()
}

type dialect struct{}

func (dialect) Rebind(query string) string {
	return sqlbackend.QuestionMarks(query)
}

func (dialect) Classify(err error, messagesTable string) sqlbackend.ErrorKind {
	if err == nil {
		return sqlbackend.ErrorOther
	}

	msg := err.Error()
	if strings.Contains(msg, sqlbackend.PositionMismatchMessage) {
		return sqlbackend.ErrorPositionMismatch
	}

	var sqliteErr *sqlite.Error
	unique := strings.Contains(msg, "UNIQUE constraint failed")
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		unique = true
	}
	if !unique {
		return sqlbackend.ErrorOther
	}
	switch {
	case strings.Contains(msg, messagesTable+".stream_name"):
		return sqlbackend.ErrorPositionMismatch
	case strings.Contains(msg, messagesTable+".id"):
		return sqlbackend.ErrorDuplicateID
	}
	return sqlbackend.ErrorOther
}

func (dialect) UpsertCheckpoint(checkpointsTable string) string {
	return fmt.Sprintf(`INSERT INTO %s (consumer_name, last_global_position, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT (consumer_name) DO UPDATE SET
			last_global_position = excluded.last_global_position,
			updated_at = excluded.updated_at`, checkpointsTable)
}
