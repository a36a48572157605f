package es

import (
	"context"
	"database/sql"
)

// DBTX is the subset of *sql.DB and *sql.Tx the relational adapters query through.
// Reads run against the pool, appends against a transaction, with the same helpers.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Ensure standard library types implement DBTX
var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)
