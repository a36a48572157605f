package backend

import (
	"context"
	"fmt"

	"github.com/getpup/messtore/es/adapters/kv"
	"github.com/getpup/messtore/es/adapters/memory"
	"github.com/getpup/messtore/es/adapters/mysql"
	"github.com/getpup/messtore/es/adapters/postgres"
	"github.com/getpup/messtore/es/adapters/sqlite"
	"github.com/getpup/messtore/es/projection"
	"github.com/getpup/messtore/es/store"
)

// Open opens the configured backend and wraps it in a Store. Options are
// applied after the ones derived from config.
func Open(ctx context.Context, config Config, opts ...store.StoreOption) (*store.Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger()

	b, err := openBackend(ctx, config)
	if err != nil {
		return nil, err
	}

	storeOpts := []store.StoreOption{store.WithLogger(logger)}
	if config.PageSize > 0 {
		storeOpts = append(storeOpts, store.WithPageSize(config.PageSize))
	}
	storeOpts = append(storeOpts, opts...)
	return store.NewStore(b, store.NewStoreConfig(storeOpts...)), nil
}

func openBackend(ctx context.Context, config Config) (store.Backend, error) {
	logger := config.Logger()

	switch config.Driver {
	case DriverMemory:
		return memory.New(), nil

	case DriverKV:
		opts := []kv.StoreOption{kv.WithLogger(logger)}
		if config.NoSync {
			opts = append(opts, kv.WithNoSync())
		}
		return kv.Open(ctx, config.Path, kv.NewStoreConfig(opts...))

	case DriverSQLite:
		opts := []sqlite.StoreOption{sqlite.WithLogger(logger)}
		if config.MessagesTable != "" {
			opts = append(opts, sqlite.WithMessagesTable(config.MessagesTable))
		}
		return sqlite.Open(ctx, config.Path, sqlite.NewStoreConfig(opts...))

	case DriverPostgres:
		opts := []postgres.StoreOption{postgres.WithLogger(logger)}
		if config.MessagesTable != "" {
			opts = append(opts, postgres.WithMessagesTable(config.MessagesTable))
		}
		return postgres.Open(ctx, config.DSN, postgres.NewStoreConfig(opts...))

	case DriverMySQL:
		opts := []mysql.StoreOption{mysql.WithLogger(logger)}
		if config.MessagesTable != "" {
			opts = append(opts, mysql.WithMessagesTable(config.MessagesTable))
		}
		return mysql.Open(ctx, config.DSN, mysql.NewStoreConfig(opts...))
	}
	return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, config.Driver)
}

// Checkpoints returns the checkpoint store of s's backend. Every built-in
// backend provides one.
func Checkpoints(s *store.Store) (projection.CheckpointStore, bool) {
	cp, ok := s.Backend().(projection.CheckpointStore)
	return cp, ok
}
