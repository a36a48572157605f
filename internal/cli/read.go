package cli

import (
	"context"
	"fmt"
	"iter"

	"github.com/spf13/cobra"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/store"
)

// ReadOptions holds flags shared by the range read commands.
type ReadOptions struct {
	*RootOptions
	From        uint64
	Limit       int
	Correlation string
}

func addRangeFlags(cmd *cobra.Command, opts *ReadOptions, fromHelp string) {
	cmd.Flags().Uint64Var(&opts.From, "from", 0, fromHelp)
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, fmt.Sprintf("maximum number of messages (default %d, at most %d)",
		store.DefaultReadLimit, store.MaxReadLimit))
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read STREAM",
		Short: "Read a stream in position order",
		Long: `Read the messages of one stream starting at a position.

Examples:
  mess read order-1
  mess read order-1 --from 10 --limit 5 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRange(opts.RootOptions, cmd, func(ctx context.Context, s *store.Store) iter.Seq2[es.Message, error] {
				return s.ReadStream(ctx, args[0], opts.From, opts.Limit)
			})
		},
	}
	addRangeFlags(cmd, opts, "first stream position to read")
	return cmd
}

// NewCategoryCommand creates the category command.
func NewCategoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "category CATEGORY",
		Short: "Read a category in global position order",
		Long: `Read the messages of every stream in a category.

With --correlation only messages whose metadata correlationStreamName
belongs to that category are returned.

Examples:
  mess category order
  mess category payment --correlation order --from 100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRange(opts.RootOptions, cmd, func(ctx context.Context, s *store.Store) iter.Seq2[es.Message, error] {
				return s.ReadCategory(ctx, store.CategoryQuery{
					Category:           args[0],
					Correlation:        opts.Correlation,
					FromGlobalPosition: opts.From,
					Limit:              opts.Limit,
				})
			})
		},
	}
	addRangeFlags(cmd, opts, "first global position to read")
	cmd.Flags().StringVar(&opts.Correlation, "correlation", "", "only messages correlated to this category")
	return cmd
}

// NewAllCommand creates the all command.
func NewAllCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Read every message in global position order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRange(opts.RootOptions, cmd, func(ctx context.Context, s *store.Store) iter.Seq2[es.Message, error] {
				return s.ReadAll(ctx, opts.From, opts.Limit)
			})
		},
	}
	addRangeFlags(cmd, opts, "first global position to read")
	return cmd
}

func runRange(opts *RootOptions, cmd *cobra.Command, read func(context.Context, *store.Store) iter.Seq2[es.Message, error]) error {
	ctx := cmd.Context()
	s, err := opts.openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	for m, err := range read(ctx, s) {
		if err != nil {
			return classify("read failed", err)
		}
		if err := printMessage(cmd.OutOrStdout(), opts.Format, &m); err != nil {
			return err
		}
	}
	return nil
}

// NewLastCommand creates the last command.
func NewLastCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "last STREAM",
		Short: "Show the last message of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(rootOpts, cmd, "stream "+args[0]+" is empty", func(ctx context.Context, s *store.Store) (*es.Message, error) {
				return s.ReadLast(ctx, args[0])
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show the message with an id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(rootOpts, cmd, "no message with id "+args[0], func(ctx context.Context, s *store.Store) (*es.Message, error) {
				return s.ReadByID(ctx, args[0])
			})
		},
	}
}

func runSingle(opts *RootOptions, cmd *cobra.Command, notFound string, read func(context.Context, *store.Store) (*es.Message, error)) error {
	ctx := cmd.Context()
	s, err := opts.openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := read(ctx, s)
	if err != nil {
		return classify("read failed", err)
	}
	if m == nil {
		return WrapExitError(ExitFailure, notFound, nil)
	}
	return printMessage(cmd.OutOrStdout(), opts.Format, m)
}
