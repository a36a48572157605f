package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getpup/messtore/es/migrations"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
	Engine           string
	Output           string
	Filename         string
	MessagesTable    string
	CheckpointsTable string
	SequenceTable    string
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}
	defaults := migrations.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print or write the SQL schema",
		Long: `Print the SQL schema for a relational engine, or write it as a
migration file with --output.

Examples:
  mess schema --engine postgres
  mess schema --engine mysql --output migrations`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Engine, "engine", "postgres", "SQL engine (postgres|mysql|sqlite)")
	cmd.Flags().StringVar(&opts.Output, "output", "", "write a migration file into this folder")
	cmd.Flags().StringVar(&opts.Filename, "filename", defaults.OutputFilename, "migration file name")
	cmd.Flags().StringVar(&opts.MessagesTable, "messages-table", defaults.MessagesTable, "name of the messages table")
	cmd.Flags().StringVar(&opts.CheckpointsTable, "checkpoints-table", defaults.CheckpointsTable, "name of the checkpoints table")
	cmd.Flags().StringVar(&opts.SequenceTable, "sequence-table", defaults.SequenceTable, "name of the sequence table")

	return cmd
}

func runSchema(opts *SchemaOptions, cmd *cobra.Command) error {
	config := migrations.Config{
		OutputFolder:     opts.Output,
		OutputFilename:   opts.Filename,
		MessagesTable:    opts.MessagesTable,
		CheckpointsTable: opts.CheckpointsTable,
		SequenceTable:    opts.SequenceTable,
	}

	var (
		statements []string
		generate   func(*migrations.Config) error
	)
	switch opts.Engine {
	case "postgres":
		statements, generate = migrations.PostgresStatements(&config), migrations.GeneratePostgres
	case "mysql":
		statements, generate = migrations.MySQLStatements(&config), migrations.GenerateMySQL
	case "sqlite":
		statements, generate = migrations.SQLiteStatements(&config), migrations.GenerateSQLite
	default:
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("unsupported engine %q: must be postgres, mysql or sqlite", opts.Engine), nil)
	}

	if opts.Output != "" {
		if err := generate(&config); err != nil {
			return WrapExitError(ExitFailure, "failed to write migration", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %s migration: %s\n", opts.Engine, filepath.Join(config.OutputFolder, config.OutputFilename))
		return nil
	}

	for _, stmt := range statements {
		fmt.Fprintf(cmd.OutOrStdout(), "%s;\n\n", strings.TrimSpace(stmt))
	}
	return nil
}
