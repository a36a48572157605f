// Package runner provides optional tooling for running multiple projections and scaling them safely.
// This package is designed to be explicit, deterministic, and CLI-friendly without imposing
// framework behavior or automatic scheduling.
package runner

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/getpup/messtore/es/projection"
	"github.com/getpup/messtore/es/store"
)

// ErrNoProjections indicates that no projections were provided to run.
var ErrNoProjections = errors.New("no projections provided")

// ErrInvalidPartitionConfig indicates invalid partition configuration.
var ErrInvalidPartitionConfig = projection.ErrInvalidPartitionConfig

// ProjectionConfig pairs a projection with its processor configuration.
type ProjectionConfig struct {
	Projection      projection.Projection
	ProcessorConfig projection.ProcessorConfig
}

// Runner orchestrates multiple projections over one store concurrently.
//
// Example:
//
//	r := runner.New(s, backend)
//	err := r.Run(ctx, []runner.ProjectionConfig{
//	    {Projection: &OrderSummary{}, ProcessorConfig: ordersConfig},
//	    {Projection: &InvoiceMailer{}, ProcessorConfig: invoicesConfig},
//	})
type Runner struct {
	store       *store.Store
	checkpoints projection.CheckpointStore
}

// New creates a new projection runner.
func New(s *store.Store, checkpoints projection.CheckpointStore) *Runner {
	return &Runner{
		store:       s,
		checkpoints: checkpoints,
	}
}

// Run runs the projections until the context is canceled or one of them fails.
// A failure cancels the others and is returned; cancellation returns the
// context error.
func (r *Runner) Run(ctx context.Context, configs []ProjectionConfig) error {
	if len(configs) == 0 {
		return ErrNoProjections
	}

	for i := range configs {
		if configs[i].Projection == nil {
			return fmt.Errorf("projection at index %d is nil", i)
		}
		if err := configs[i].ProcessorConfig.Validate(); err != nil {
			return fmt.Errorf("projection %q: %w", configs[i].Projection.Name(), err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pc := range configs {
		processor := projection.NewProcessor(r.store, r.checkpoints, pc.ProcessorConfig)
		g.Go(func() error {
			err := processor.Run(gctx, pc.Projection)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("projection %q failed: %w", pc.Projection.Name(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// RunProjectionPartitions runs totalPartitions instances of one projection,
// each owning a hash partition of the category's cardinal ids.
func RunProjectionPartitions(
	ctx context.Context,
	s *store.Store,
	checkpoints projection.CheckpointStore,
	proj projection.Projection,
	config projection.ProcessorConfig,
	totalPartitions int,
) error {
	if totalPartitions < 1 {
		return fmt.Errorf("%w: total partitions must be positive, got %d", ErrInvalidPartitionConfig, totalPartitions)
	}

	configs := make([]ProjectionConfig, totalPartitions)
	for key := range configs {
		c := config
		c.PartitionKey = key
		c.TotalPartitions = totalPartitions
		configs[key] = ProjectionConfig{Projection: proj, ProcessorConfig: c}
	}
	return New(s, checkpoints).Run(ctx, configs)
}

// RunMultipleProjections is shorthand for New(s, checkpoints).Run(ctx, configs).
func RunMultipleProjections(
	ctx context.Context,
	s *store.Store,
	checkpoints projection.CheckpointStore,
	configs []ProjectionConfig,
) error {
	return New(s, checkpoints).Run(ctx, configs)
}
