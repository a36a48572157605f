// Package postgres provides a message store backend on PostgreSQL (lib/pq).
//
// A BEFORE INSERT trigger locks the single row of the sequence table, takes the
// next global position and ord from it and checks the stream position. The row
// lock is held to commit, which serializes appends and makes global position
// order equal commit order.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/adapters/sqlbackend"
	"github.com/getpup/messtore/es/migrations"
)

// SQLSTATE codes the backend translates.
const (
	codeUniqueViolation = "23505"
	codeRaiseException  = "P0001"
)

// StoreConfig contains configuration for the Postgres backend.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// MessagesTable is the name of the messages table
	MessagesTable string

	// CheckpointsTable is the name of the consumer checkpoints table
	CheckpointsTable string

	// SequenceTable is the name of the global position and ord counter table
	SequenceTable string

	// AutoMigrate installs the schema on Open.
	AutoMigrate bool
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MessagesTable:    "messages",
		CheckpointsTable: "message_checkpoints",
		SequenceTable:    "message_sequence",
		AutoMigrate:      true,
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

// WithSequenceTable sets a custom sequence table name.
func WithSequenceTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.SequenceTable = tableName
	}
}

// WithoutAutoMigrate leaves schema installation to the caller.
func WithoutAutoMigrate() StoreOption {
	return func(c *StoreConfig) {
		c.AutoMigrate = false
	}
}

// NewStoreConfig creates a new store configuration with functional options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Backend is a PostgreSQL-backed store.Backend.
type Backend struct {
	*sqlbackend.Backend
}

// Open connects to dsn and, unless disabled, installs the schema.
func Open(ctx context.Context, dsn string, config StoreConfig) (*Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if config.AutoMigrate {
		if err := Migrate(ctx, db, config); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if config.Logger != nil {
		config.Logger.Info(ctx, "postgres store opened", "messages_table", config.MessagesTable)
	}
	return New(db, config), nil
}

// New wraps an existing pool. The schema must already be installed.
func New(db *sql.DB, config StoreConfig) *Backend {
	return &Backend{
		Backend: sqlbackend.New(db, db, sqlbackend.Config{
			Logger:           config.Logger,
			Dialect:          dialect{},
			MessagesTable:    config.MessagesTable,
			CheckpointsTable: config.CheckpointsTable,
		}),
	}
}

// Migrate installs the schema in one transaction. Concurrent callers are
// serialized with an advisory lock.
func Migrate(ctx context.Context, db *sql.DB, config StoreConfig) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, config.MessagesTable); err != nil {
		return fmt.Errorf("failed to lock migration: %w", err)
	}

	statements := migrations.PostgresStatements(&migrations.Config{
		MessagesTable:    config.MessagesTable,
		CheckpointsTable: config.CheckpointsTable,
		SequenceTable:    config.SequenceTable,
	})
	if err := migrations.Apply(ctx, tx, statements); err != nil {
		return err
	}
	return tx.Commit()
}

type dialect struct{}

func (dialect) Rebind(query string) string {
	return sqlbackend.DollarPlaceholders(query)
}

func (dialect) Classify(err error, messagesTable string) sqlbackend.ErrorKind {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return sqlbackend.ErrorOther
	}
	switch string(pqErr.Code) {
	case codeRaiseException:
		if strings.Contains(pqErr.Message, sqlbackend.PositionMismatchMessage) {
			return sqlbackend.ErrorPositionMismatch
		}
	case codeUniqueViolation:
		switch pqErr.Constraint {
		case messagesTable + "_stream_position_key":
			return sqlbackend.ErrorPositionMismatch
		case messagesTable + "_id_key":
			return sqlbackend.ErrorDuplicateID
		}
	}
	return sqlbackend.ErrorOther
}

func (dialect) UpsertCheckpoint(checkpointsTable string) string {
	return fmt.Sprintf(`INSERT INTO %s (consumer_name, last_global_position, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (consumer_name) DO UPDATE SET
			last_global_position = EXCLUDED.last_global_position,
			updated_at = NOW()`, checkpointsTable)
}
