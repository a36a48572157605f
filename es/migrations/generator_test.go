package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func generate(t *testing.T, gen func(*Config) error, config Config) string {
	t.Helper()

	config.OutputFolder = t.TempDir()
	config.OutputFilename = "test_migration.sql"

	if err := gen(&config); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(config.OutputFolder, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}
	return string(content)
}

func assertContains(t *testing.T, sql string, required []string) {
	t.Helper()
	for _, s := range required {
		if !strings.Contains(sql, s) {
			t.Errorf("Generated SQL missing required string: %s", s)
		}
	}
}

func TestGeneratePostgres(t *testing.T) {
	sql := generate(t, GeneratePostgres, DefaultConfig())

	assertContains(t, sql, []string{
		"-- Message Store Migration for PostgreSQL",
		"CREATE TABLE IF NOT EXISTS message_sequence",
		"INSERT INTO message_sequence (id, global_position, ord) VALUES (1, 0, 0)",
		"CREATE TABLE IF NOT EXISTS messages",
		"global_position BIGINT NOT NULL DEFAULT 0 PRIMARY KEY",
		"data BYTEA NOT NULL",
		"metadata TEXT",
		"category TEXT GENERATED ALWAYS AS (split_part(stream_name, '-', 1)) STORED",
		"correlation_category TEXT,",
		"CONSTRAINT messages_id_key UNIQUE (id)",
		"CONSTRAINT messages_stream_position_key UNIQUE (stream_name, position)",
		"RAISE EXCEPTION 'stream position mismatch'",
		"CREATE TRIGGER messages_before_insert BEFORE INSERT ON messages",
		"CREATE INDEX IF NOT EXISTS idx_messages_category ON messages (category, global_position, correlation_category)",
		"CREATE TABLE IF NOT EXISTS message_checkpoints",
		"consumer_name TEXT PRIMARY KEY",
	})
}

func TestGeneratePostgres_CustomTableNames(t *testing.T) {
	sql := generate(t, GeneratePostgres, Config{
		MessagesTable:    "custom_messages",
		CheckpointsTable: "custom_checkpoints",
		SequenceTable:    "custom_sequence",
	})

	assertContains(t, sql, []string{
		"CREATE TABLE IF NOT EXISTS custom_messages",
		"CREATE TABLE IF NOT EXISTS custom_checkpoints",
		"UPDATE custom_sequence",
		"CREATE INDEX IF NOT EXISTS idx_custom_messages_category ON custom_messages (category, global_position, correlation_category)",
	})

	if strings.Contains(sql, "TABLE IF NOT EXISTS messages ") {
		t.Error("Generated SQL should not contain default table name")
	}
}

func TestGenerateSQLite(t *testing.T) {
	sql := generate(t, GenerateSQLite, DefaultConfig())

	assertContains(t, sql, []string{
		"-- Message Store Migration for SQLite",
		"global_position INTEGER PRIMARY KEY AUTOINCREMENT",
		"data BLOB NOT NULL",
		"RAISE(ABORT, 'stream position mismatch')",
		"CREATE TRIGGER IF NOT EXISTS messages_resolve_ord",
		"CREATE UNIQUE INDEX IF NOT EXISTS messages_id",
		"CREATE TABLE IF NOT EXISTS message_checkpoints",
	})

	if strings.Contains(sql, "message_sequence") {
		t.Error("SQLite schema should not use a sequence table")
	}
}

func TestGenerateMySQL(t *testing.T) {
	sql := generate(t, GenerateMySQL, DefaultConfig())

	assertContains(t, sql, []string{
		"-- Message Store Migration for MySQL",
		"DELIMITER $$",
		"INSERT IGNORE INTO message_sequence",
		"data LONGBLOB NOT NULL",
		"UNIQUE KEY messages_id (id)",
		"UNIQUE KEY messages_stream_position (stream_name, position)",
		"SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'stream position mismatch'",
		"END$$",
		"DELIMITER ;",
		"COLLATE=utf8mb4_bin",
	})
}

func TestOrdTimeExpr(t *testing.T) {
	expr := ordTimeExpr()
	if expr != "1577836800000 + ((ord >> 16) * 50)" {
		t.Errorf("unexpected ord_time expression: %s", expr)
	}
}

func TestCorrelationCategoryIsPlainColumn(t *testing.T) {
	config := DefaultConfig()
	schemas := map[string][]string{
		"postgres": PostgresStatements(&config),
		"mysql":    MySQLStatements(&config),
		"sqlite":   SQLiteStatements(&config),
	}

	for engine, statements := range schemas {
		sql := strings.Join(statements, "\n")
		if strings.Contains(sql, "correlationStreamName") {
			t.Errorf("%s schema derives the correlation category from metadata", engine)
		}
		if !strings.Contains(sql, "correlation_category") {
			t.Errorf("%s schema has no correlation_category column", engine)
		}
	}
}
