package migrations

import "fmt"

// MySQLStatements returns the MySQL 8 schema.
//
// As with PostgreSQL, the BEFORE INSERT trigger locks the sequence row first,
// then checks the stream position with a locking read so it sees the latest
// committed rows regardless of the transaction's snapshot. The sequence row
// lock is held to commit, so appends are serialized store-wide. Statements are
// meant to be executed one by one; trigger bodies contain semicolons.
func MySQLStatements(config *Config) []string {
	t := config.MessagesTable
	seq := config.SequenceTable

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TINYINT PRIMARY KEY,
    global_position BIGINT NOT NULL,
    ord BIGINT NOT NULL
) ENGINE=InnoDB`, seq),

		fmt.Sprintf(`INSERT IGNORE INTO %s (id, global_position, ord) VALUES (1, 0, 0)`, seq),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    global_position BIGINT NOT NULL DEFAULT 0 PRIMARY KEY,
    position BIGINT NOT NULL,
    time BIGINT NOT NULL,
    stream_name VARCHAR(255) NOT NULL,
    message_type VARCHAR(255) NOT NULL,
    data LONGBLOB NOT NULL,
    metadata LONGTEXT,
    id VARCHAR(255) NOT NULL,
    ord BIGINT NOT NULL,
    category VARCHAR(255) AS (SUBSTRING_INDEX(stream_name, '-', 1)) VIRTUAL,
    stream_id VARCHAR(255) AS (SUBSTRING(stream_name, LOCATE('-', stream_name) + 1)) VIRTUAL,
    cardinal_id VARCHAR(255) AS (SUBSTRING_INDEX(SUBSTRING(stream_name, LOCATE('-', stream_name) + 1), '+', 1)) VIRTUAL,
    correlation_category VARCHAR(255),
    ord_time BIGINT AS (%s) VIRTUAL,
    UNIQUE KEY %s_id (id),
    UNIQUE KEY %s_stream_position (stream_name, position),
    KEY %s_category (category, global_position, correlation_category),
    KEY %s_ord (ord)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
			t, ordTimeExpr(), t, t, t, t),

		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_before_insert`, t),
		fmt.Sprintf(`CREATE TRIGGER %s_before_insert BEFORE INSERT ON %s
FOR EACH ROW
BEGIN
    DECLARE next_global_position BIGINT;
    DECLARE next_ord BIGINT;
    DECLARE last_position BIGINT;

    UPDATE %s
    SET global_position = global_position + 1,
        ord = GREATEST(ABS(NEW.ord), ord + 1)
    WHERE id = 1;
    SELECT global_position, ord INTO next_global_position, next_ord FROM %s WHERE id = 1;

    SELECT COALESCE(MAX(position), -1) INTO last_position
    FROM %s WHERE stream_name = NEW.stream_name FOR UPDATE;
    IF last_position <> NEW.position - 1 THEN
        SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'stream position mismatch';
    END IF;

    SET NEW.global_position = next_global_position;
    SET NEW.ord = next_ord;
END`, t, t, seq, seq, t),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    consumer_name VARCHAR(255) PRIMARY KEY,
    last_global_position BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`, config.CheckpointsTable),
	}
}
