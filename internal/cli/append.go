package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/getpup/messtore/es"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Expected uint64
	Data     string
	Metadata string
	ID       string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append STREAM TYPE",
		Short: "Append a message to a stream",
		Long: `Append a message at the expected position of a stream.

The append fails with exit code 3 when the stream is not at the expected
position or the id is already stored.

Examples:
  mess append order-1 OrderPlaced --data '{"total":42}'
  mess append order-1 OrderPaid --expected 1 --metadata '{"correlationStreamName":"payment-7"}'
  echo '{"total":42}' | mess append order-2 OrderPlaced --data -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().Uint64Var(&opts.Expected, "expected", 0, "expected stream position (0 for a new stream)")
	cmd.Flags().StringVar(&opts.Data, "data", "{}", "message data, or - to read it from stdin")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "message metadata (JSON)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "message id (generated when empty)")

	return cmd
}

func runAppend(opts *AppendOptions, cmd *cobra.Command, streamName, messageType string) error {
	ctx := cmd.Context()

	data := []byte(opts.Data)
	if opts.Data == "-" {
		var err error
		if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return WrapExitError(ExitCommandError, "failed to read data from stdin", err)
		}
	}
	var metadata []byte
	if opts.Metadata != "" {
		metadata = []byte(opts.Metadata)
	}

	s, err := opts.openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := s.Append(ctx, es.NewMessage{
		StreamName:       streamName,
		ExpectedPosition: opts.Expected,
		MessageType:      messageType,
		Data:             data,
		Metadata:         metadata,
		ID:               opts.ID,
	})
	if err != nil {
		return classify(fmt.Sprintf("failed to append to %s", streamName), err)
	}
	return printMessage(cmd.OutOrStdout(), opts.Format, &m)
}
