// Package messtore provides a message store for Go applications.
//
// This package serves as the main entry point for the messtore library.
// For the store itself, see the es package and its subpackages:
//
//	es                 - Messages, stream names and errors
//	es/store           - The Store and the Backend contract
//	es/backend         - Backend selection from YAML configuration
//	es/adapters/...    - memory, kv (Pebble), sqlite, postgres and mysql backends
//	es/projection      - Category consumers with checkpoints
//	es/migrations      - SQL schema generation
//
// Quick Start:
//
//  1. Open a store:
//     s, err := backend.Open(ctx, backend.Config{Driver: backend.DriverSQLite, Path: "messages.db"})
//
//  2. Append a message:
//     m, err := s.Append(ctx, es.NewMessage{StreamName: "order-1", MessageType: "OrderPlaced", Data: data})
//
//  3. Read a category:
//     for m, err := range s.ReadCategory(ctx, store.CategoryQuery{Category: "order"}) { ... }
package messtore

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
