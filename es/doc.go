// Package es provides the core types of the message store.
//
// # Overview
//
// This package defines the values every backend and consumer shares:
//   - Message: an immutable, committed message with its positions and ord
//   - NewMessage: the caller's request to append one message
//   - stream name parsing: category, stream id and cardinal id
//   - typed errors: position conflicts, duplicate ids, malformed names
//   - Logger: the optional logging hook used by stores and processors
//
// # Streams and Categories
//
// A stream name is "category-id". The part before the first '-' is the
// category; the id may carry a compound "cardinal+rest" form, and the cardinal
// id is used for consumer partitioning. Category reads can be narrowed to
// messages whose metadata carries a correlationStreamName in a given category.
//
// # Positions
//
// Each stream numbers its messages 0, 1, 2, ... An append names the position it
// expects to write; any other position fails with a *PositionConflictError
// and nothing is written. The global position orders every message in commit
// order, and the ord is a time-ordered sequence value with the commit time
// encoded in its high bits (see the ordering package).
//
// # Quick Start
//
//	s, err := backend.Open(ctx, backend.Config{Driver: backend.DriverSQLite, Path: "messages.db"})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	m, err := s.Append(ctx, es.NewMessage{
//	    StreamName:       "order-1",
//	    ExpectedPosition: 0,
//	    MessageType:      "OrderPlaced",
//	    Data:             []byte(`{"total":42}`),
//	})
//
//	for m, err := range s.ReadCategory(ctx, store.CategoryQuery{Category: "order"}) {
//	    ...
//	}
//
// To write SQL migrations for PostgreSQL or MySQL, use the migrate-gen command:
//
//	go run github.com/getpup/messtore/cmd/migrate-gen --adapter postgres --output migrations
package es
