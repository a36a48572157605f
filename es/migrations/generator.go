package migrations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/ordering"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// MessagesTable is the name of the messages table
	MessagesTable string

	// CheckpointsTable is the name of the consumer checkpoints table
	CheckpointsTable string

	// SequenceTable is the name of the single-row table that hands out global
	// positions and ords (PostgreSQL and MySQL only)
	SequenceTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:     "migrations",
		OutputFilename:   fmt.Sprintf("%s_init_message_store.sql", timestamp),
		MessagesTable:    "messages",
		CheckpointsTable: "message_checkpoints",
		SequenceTable:    "message_sequence",
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return writeMigration(config, "PostgreSQL", PostgresStatements(config), ";")
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return writeMigration(config, "SQLite", SQLiteStatements(config), ";")
}

// GenerateMySQL generates a MySQL migration file. Trigger bodies contain
// semicolons, so the file switches the mysql client delimiter to $$.
func GenerateMySQL(config *Config) error {
	return writeMigration(config, "MySQL", MySQLStatements(config), "$$")
}

func writeMigration(config *Config, engine string, statements []string, delimiter string) error {
	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	sql := render(engine, statements, delimiter)

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

func render(engine string, statements []string, delimiter string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Message Store Migration for %s\n", engine)
	fmt.Fprintf(&b, "-- Generated: %s\n\n", time.Now().Format(time.RFC3339))
	if delimiter != ";" {
		fmt.Fprintf(&b, "DELIMITER %s\n\n", delimiter)
	}
	for _, stmt := range statements {
		b.WriteString(strings.TrimSpace(stmt))
		b.WriteString(delimiter)
		b.WriteString("\n\n")
	}
	if delimiter != ";" {
		b.WriteString("DELIMITER ;\n")
	}
	return b.String()
}

// Apply executes statements in order.
func Apply(ctx context.Context, db es.DBTX, statements []string) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration statement %d: %w", i, err)
		}
	}
	return nil
}

// ordTimeExpr is the ord_time derivation in unix milliseconds.
func ordTimeExpr() string {
	return fmt.Sprintf("%d + ((ord >> %d) * %d)",
		int64(ordering.EpochUnix)*1000, ordering.TickShift, 1000/ordering.TicksPerSecond)
}
