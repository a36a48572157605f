// Package cli implements the mess command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getpup/messtore/es/backend"
	"github.com/getpup/messtore/es/store"
	messtore "github.com/getpup/messtore/pkg"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Driver     string
	Path       string
	DSN        string
	LogLevel   string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the mess CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "mess",
		Short:   "mess - a message store",
		Version: messtore.Version(),
		Long: `Append to and read from a message store.

The backend comes from --config (YAML) and is overridden by --driver,
--path and --dsn.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML configuration")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "backend driver (sqlite|kv|postgres|mysql|memory)")
	cmd.PersistentFlags().StringVar(&opts.Path, "path", "", "SQLite file or KV directory")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "PostgreSQL or MySQL connection string")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewCategoryCommand(opts))
	cmd.AddCommand(NewAllCommand(opts))
	cmd.AddCommand(NewLastCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))

	return cmd
}

// Config resolves the backend configuration from the file and flags.
func (o *RootOptions) Config() (backend.Config, error) {
	config := backend.DefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := backend.LoadConfig(o.ConfigPath)
		if err != nil {
			return config, err
		}
		config = loaded
	}
	if o.Driver != "" {
		config.Driver = o.Driver
	}
	if o.Path != "" {
		config.Path = o.Path
	}
	if o.DSN != "" {
		config.DSN = o.DSN
	}
	if o.LogLevel != "" {
		config.LogLevel = o.LogLevel
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// openStore opens the configured store. Logs go to the command's error stream.
func (o *RootOptions) openStore(ctx context.Context, cmd *cobra.Command) (*store.Store, error) {
	config, err := o.Config()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	config.LogOutput = cmd.ErrOrStderr()
	if o.LogLevel == "" && o.ConfigPath == "" {
		config.LogLevel = "error"
	}

	s, err := backend.Open(ctx, config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return s, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
