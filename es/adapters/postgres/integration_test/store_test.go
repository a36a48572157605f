// Package integration_test contains integration tests for the Postgres adapter.
// These tests require a running PostgreSQL instance.
//
// Run with: go test -tags=integration ./es/adapters/postgres/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/messtore/es/adapters/postgres"
	"github.com/getpup/messtore/es/store"
	"github.com/getpup/messtore/es/store/storetest"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_USER", "postgres"),
		getEnv("POSTGRES_PASSWORD", "postgres"),
		getEnv("POSTGRES_DB", "messtore_test"))
}

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", dsn())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "postgres not reachable")
	return db
}

func resetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`
		DROP TABLE IF EXISTS messages CASCADE;
		DROP TABLE IF EXISTS message_checkpoints CASCADE;
		DROP TABLE IF EXISTS message_sequence CASCADE;
		DROP FUNCTION IF EXISTS messages_before_insert() CASCADE;
	`)
	require.NoError(t, err)
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts ...store.StoreOption) *store.Store {
		db := getTestDB(t)
		resetTables(t, db)
		require.NoError(t, db.Close())

		b, err := postgres.Open(context.Background(), dsn(), postgres.DefaultStoreConfig())
		require.NoError(t, err)
		s := store.NewStore(b, store.NewStoreConfig(opts...))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	defer db.Close()
	resetTables(t, db)

	config := postgres.DefaultStoreConfig()
	require.NoError(t, postgres.Migrate(ctx, db, config))
	require.NoError(t, postgres.Migrate(ctx, db, config))

	s := store.NewStore(postgres.New(db, config), store.DefaultStoreConfig())
	m, err := s.Append(ctx, storetest.NewMessage("order-1", 0, "OrderCreated"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.GlobalPosition)
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	db := getTestDB(t)
	resetTables(t, db)

	config := postgres.DefaultStoreConfig()
	require.NoError(t, postgres.Migrate(ctx, db, config))
	b := postgres.New(db, config)
	defer b.Close()

	cp, err := b.GetCheckpoint(ctx, "orders")
	require.NoError(t, err)
	assert.Zero(t, cp)

	require.NoError(t, b.UpdateCheckpoint(ctx, "orders", 7))
	require.NoError(t, b.UpdateCheckpoint(ctx, "orders", 9))
	cp, err = b.GetCheckpoint(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cp)
}
