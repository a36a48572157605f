// Package migrations generates the relational schema of the message store.
//
// The schema is the same for every engine: a messages table whose derived
// columns (category, stream_id, cardinal_id, ord_time) are computed from
// stream_name and ord, a correlation_category column written by the store from
// es.CorrelationCategory, a BEFORE INSERT trigger that
// rejects positions that do not continue their stream, a unique id constraint,
// and the composite (category, global_position, correlation_category) index
// that serves category scans.
//
// To write a migration file, use the migrate-gen command:
//
//	go run github.com/getpup/messtore/cmd/migrate-gen --adapter postgres --output migrations
//
// The SQLite adapter applies SQLiteStatements itself when it opens a database.
// The PostgreSQL and MySQL adapters expose Migrate for the same purpose.
package migrations
