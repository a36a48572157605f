// Package mysql provides a message store backend on MySQL 8 (go-sql-driver/mysql).
//
// Like the Postgres backend, a BEFORE INSERT trigger assigns global positions
// and ords from a locked single-row sequence table and signals on a stream
// position mismatch.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/adapters/sqlbackend"
	"github.com/getpup/messtore/es/migrations"
)

// Server error numbers the backend translates.
const (
	errDupEntry        = 1062 // ER_DUP_ENTRY
	errSignalException = 1644 // ER_SIGNAL_EXCEPTION
)

// StoreConfig contains configuration for the MySQL backend.
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

// Backend is a MySQL-backed store.Backend.
type Backend struct {
	*sqlbackend.Backend
}

// Open connects to dsn and, unless disabled, installs the schema.
func Open(ctx context.Context, dsn string, config StoreConfig) (*Backend, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}
	if config.AutoMigrate {
		if err := Migrate(ctx, db, config); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if config.Logger != nil {
		config.Logger.Info(ctx, "mysql store opened",
			"addr", cfg.Addr,
			"database", cfg.DBName,
			"messages_table", config.MessagesTable)
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

// Migrate installs the schema. MySQL commits DDL implicitly, so concurrent
// callers are serialized with a named lock instead of a transaction.
func Migrate(ctx context.Context, db *sql.DB, config StoreConfig) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	lockName := "messtore_migrate_" + config.MessagesTable
	var locked sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, 30)`, lockName).Scan(&locked); err != nil {
		return fmt.Errorf("failed to lock migration: %w", err)
	}
	if locked.Int64 != 1 {
		return fmt.Errorf("timed out waiting for migration lock %s", lockName)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), `SELECT RELEASE_LOCK(?)`, lockName) }()

	statements := migrations.MySQLStatements(&migrations.Config{
		MessagesTable:    config.MessagesTable,
		CheckpointsTable: config.CheckpointsTable,
		SequenceTable:    config.SequenceTable,
	})
	return migrations.Apply(ctx, conn, statements)
}

type dialect struct{}

func (dialect) Rebind(query string) string {
	return sqlbackend.QuestionMarks(query)
}

func (dialect) Classify(err error, messagesTable string) sqlbackend.ErrorKind {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return sqlbackend.ErrorOther
	}
	switch mysqlErr.Number {
	case errSignalException:
		if strings.Contains(mysqlErr.Message, sqlbackend.PositionMismatchMessage) {
			return sqlbackend.ErrorPositionMismatch
		}
	case errDupEntry:
		// Duplicate entry 'x' for key 'messages.messages_id'
		switch {
		case strings.Contains(mysqlErr.Message, messagesTable+"_stream_position'"):
			return sqlbackend.ErrorPositionMismatch
		case strings.Contains(mysqlErr.Message, messagesTable+"_id'"):
			return sqlbackend.ErrorDuplicateID
		}
	}
	return sqlbackend.ErrorOther
}

func (dialect) UpsertCheckpoint(checkpointsTable string) string {
	return fmt.Sprintf(`INSERT INTO %s (consumer_name, last_global_position)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE last_global_position = VALUES(last_global_position)`, checkpointsTable)
}
