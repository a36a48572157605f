package migrations

import "fmt"

// SQLiteVersion is stored in PRAGMA user_version once SQLiteStatements are applied.
const SQLiteVersion = 1

// SQLiteStatements returns the SQLite schema.
//
// global_position is an AUTOINCREMENT rowid. The writer inserts a negative
// provisional ord and the AFTER INSERT trigger resolves it against the highest
// resolved ord. SQLite runs one write transaction at a time, so both triggers
// see a stable table.
func SQLiteStatements(config *Config) []string {
	t := config.MessagesTable

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    global_position INTEGER PRIMARY KEY AUTOINCREMENT,
    position INTEGER NOT NULL,
    time INTEGER NOT NULL,
    stream_name TEXT NOT NULL,
    message_type TEXT NOT NULL,
    data BLOB NOT NULL,
    metadata TEXT,
    id TEXT NOT NULL,
    ord INTEGER NOT NULL,
    category TEXT GENERATED ALWAYS AS (substr(stream_name, 1, instr(stream_name, '-') - 1)) VIRTUAL,
    stream_id TEXT GENERATED ALWAYS AS (substr(stream_name, instr(stream_name, '-') + 1)) VIRTUAL,
    cardinal_id TEXT GENERATED ALWAYS AS (
        CASE WHEN instr(stream_id, '+') > 0 THEN substr(stream_id, 1, instr(stream_id, '+') - 1) ELSE stream_id END
    ) VIRTUAL,
    correlation_category TEXT,
    ord_time INTEGER GENERATED ALWAYS AS (%s) VIRTUAL
) STRICT`, t, ordTimeExpr()),

		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_id ON %s (id)`, t, t),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_stream ON %s (stream_name, position)`, t, t),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_ord ON %s (ord)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_category ON %s (category, global_position, correlation_category)`, t, t),

		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_check_position
BEFORE INSERT ON %s
FOR EACH ROW
BEGIN
    SELECT RAISE(ABORT, 'stream position mismatch')
    WHERE COALESCE((SELECT MAX(position) FROM %s WHERE stream_name = NEW.stream_name), -1) != NEW.position - 1;
END`, t, t, t),

		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_resolve_ord
AFTER INSERT ON %s
FOR EACH ROW
WHEN NEW.ord < 0
BEGIN
    UPDATE %s
    SET ord = MAX(-NEW.ord, COALESCE((SELECT MAX(ord) FROM %s WHERE ord > 0), 0) + 1)
    WHERE global_position = NEW.global_position;
END`, t, t, t, t),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    consumer_name TEXT PRIMARY KEY,
    last_global_position INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
)`, config.CheckpointsTable),
	}
}
