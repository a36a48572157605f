package migrations

import "fmt"

// PostgresStatements returns the PostgreSQL schema.
//
// Global positions and ords come from a single-row sequence table updated by
// the BEFORE INSERT trigger. The row lock is taken before the position check
// and held until commit, so positions, ords and commit order agree. It also
// means appends are serialized store-wide, not only per stream.
//
// correlation_category is written by the store, which derives it from the
// metadata with es.CorrelationCategory.
func PostgresStatements(config *Config) []string {
	t := config.MessagesTable
	seq := config.SequenceTable

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id SMALLINT PRIMARY KEY CHECK (id = 1),
    global_position BIGINT NOT NULL,
    ord BIGINT NOT NULL
)`, seq),

		fmt.Sprintf(`INSERT INTO %s (id, global_position, ord) VALUES (1, 0, 0) ON CONFLICT (id) DO NOTHING`, seq),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    global_position BIGINT NOT NULL DEFAULT 0 PRIMARY KEY,
    position BIGINT NOT NULL,
    time BIGINT NOT NULL,
    stream_name TEXT NOT NULL,
    message_type TEXT NOT NULL,
    data BYTEA NOT NULL,
    metadata TEXT,
    id TEXT NOT NULL,
    ord BIGINT NOT NULL,
    category TEXT GENERATED ALWAYS AS (split_part(stream_name, '-', 1)) STORED,
    stream_id TEXT GENERATED ALWAYS AS (substr(stream_name, strpos(stream_name, '-') + 1)) STORED,
    cardinal_id TEXT GENERATED ALWAYS AS (split_part(substr(stream_name, strpos(stream_name, '-') + 1), '+', 1)) STORED,
    correlation_category TEXT,
    ord_time BIGINT GENERATED ALWAYS AS (%s) STORED,
    CONSTRAINT %s_id_key UNIQUE (id),
    CONSTRAINT %s_stream_position_key UNIQUE (stream_name, position)
)`, t, ordTimeExpr(), t, t),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_category ON %s (category, global_position, correlation_category)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ord ON %s (ord)`, t, t),

		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s_before_insert() RETURNS TRIGGER AS $$
DECLARE
    last_position BIGINT;
BEGIN
    UPDATE %s
    SET global_position = global_position + 1,
        ord = GREATEST(ABS(NEW.ord), ord + 1)
    WHERE id = 1
    RETURNING global_position, ord INTO NEW.global_position, NEW.ord;

    SELECT MAX(m.position) INTO last_position FROM %s m WHERE m.stream_name = NEW.stream_name;
    IF COALESCE(last_position, -1) <> NEW.position - 1 THEN
        RAISE EXCEPTION 'stream position mismatch';
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql`, t, seq, t),

		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_before_insert ON %s`, t, t),
		fmt.Sprintf(`CREATE TRIGGER %s_before_insert BEFORE INSERT ON %s FOR EACH ROW EXECUTE FUNCTION %s_before_insert()`, t, t, t),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    consumer_name TEXT PRIMARY KEY,
    last_global_position BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, config.CheckpointsTable),
	}
}
