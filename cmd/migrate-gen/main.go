// Command migrate-gen writes the SQL migration of the message store.
//
// Usage:
//
//	go run github.com/getpup/messtore/cmd/migrate-gen --output migrations --filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/messtore/cmd/migrate-gen --output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/messtore/cmd/migrate-gen --adapter postgres --output migrations
//	go run github.com/getpup/messtore/cmd/migrate-gen --adapter mysql --output migrations
//	go run github.com/getpup/messtore/cmd/migrate-gen --adapter sqlite --output migrations
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getpup/messtore/es/migrations"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	config := migrations.DefaultConfig()
	var adapter string

	cmd := &cobra.Command{
		Use:           "migrate-gen",
		Short:         "Generate the SQL migration of the message store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			switch adapter {
			case "postgres":
				err = migrations.GeneratePostgres(&config)
			case "mysql":
				err = migrations.GenerateMySQL(&config)
			case "sqlite":
				err = migrations.GenerateSQLite(&config)
			default:
				return fmt.Errorf("unsupported adapter %q: supported adapters are postgres, mysql, sqlite", adapter)
			}
			if err != nil {
				return fmt.Errorf("generating migration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s migration: %s/%s\n", adapter, config.OutputFolder, config.OutputFilename)
			return nil
		},
	}

	cmd.Flags().StringVar(&adapter, "adapter", "postgres", "database adapter: postgres, mysql, or sqlite")
	cmd.Flags().StringVar(&config.OutputFolder, "output", config.OutputFolder, "output folder for the migration file")
	cmd.Flags().StringVar(&config.OutputFilename, "filename", config.OutputFilename, "output filename")
	cmd.Flags().StringVar(&config.MessagesTable, "messages-table", config.MessagesTable, "name of the messages table")
	cmd.Flags().StringVar(&config.CheckpointsTable, "checkpoints-table", config.CheckpointsTable, "name of the checkpoints table")
	cmd.Flags().StringVar(&config.SequenceTable, "sequence-table", config.SequenceTable, "name of the sequence table")

	return cmd
}
