// Package projection runs category consumers: handlers that follow one
// category in global position order and remember how far they got.
//
// Delivery is at-least-once: the checkpoint is saved after the handler returns,
// so a crash in between redelivers messages. Handlers must be idempotent.
package projection

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/store"
)

var (
	// ErrProjectionStopped indicates the projection was stopped due to an error.
	ErrProjectionStopped = errors.New("projection stopped")

	// ErrInvalidPartitionConfig indicates invalid partition configuration.
	ErrInvalidPartitionConfig = errors.New("invalid partition configuration")

	// ErrNoCategory indicates a processor was configured without a category.
	ErrNoCategory = errors.New("processor category is required")
)

// Projection handles the messages of a category.
type Projection interface {
	// Name returns the unique name of this projection.
	// This name is used for checkpoint tracking.
	Name() string

	// Handle processes a single message.
	// Return an error to stop projection processing.
	Handle(ctx context.Context, message es.Message) error
}

// CheckpointStore persists the last global position a consumer handled.
// Every backend implements it.
type CheckpointStore interface {
	// GetCheckpoint returns 0 for an unknown consumer.
	GetCheckpoint(ctx context.Context, name string) (uint64, error)
	UpdateCheckpoint(ctx context.Context, name string, globalPosition uint64) error
}

// PartitionStrategy decides which messages a processor instance handles.
type PartitionStrategy interface {
	// ShouldProcess reports whether the instance partitionKey of totalPartitions
	// owns key.
	ShouldProcess(key string, partitionKey int, totalPartitions int) bool
}

// HashPartitionStrategy assigns cardinal ids to partitions by FNV-1a hash.
// All messages of a cardinal id, including its compound streams, land on the
// same partition and keep their relative order.
type HashPartitionStrategy struct{}

// ShouldProcess implements PartitionStrategy.
func (HashPartitionStrategy) ShouldProcess(key string, partitionKey int, totalPartitions int) bool {
	if totalPartitions <= 1 {
		return true
	}

	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()%uint32(totalPartitions)) == partitionKey
}

// ProcessorConfig configures a projection processor.
type ProcessorConfig struct {
	// Logger is an optional logger for observability.
	Logger es.Logger

	// Category is the category the processor follows.
	Category string

	// Correlation, when set, keeps only messages correlated to this category.
	Correlation string

	// BatchSize is the number of messages to read per batch
	BatchSize int

	// PartitionKey identifies this processor instance (0-indexed)
	PartitionKey int

	// TotalPartitions is the total number of processor instances
	TotalPartitions int

	// PartitionStrategy determines which messages this processor handles
	PartitionStrategy PartitionStrategy

	// PollInterval is the wait after an empty batch.
	PollInterval time.Duration
}

// DefaultProcessorConfig returns the default configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:         100,
		PartitionKey:      0,
		TotalPartitions:   1,
		PartitionStrategy: HashPartitionStrategy{},
		PollInterval:      100 * time.Millisecond,
	}
}

// Validate checks the partition settings and the category.
func (c *ProcessorConfig) Validate() error {
	if c.Category == "" {
		return ErrNoCategory
	}
	if c.TotalPartitions < 1 {
		return fmt.Errorf("%w: total partitions must be positive, got %d", ErrInvalidPartitionConfig, c.TotalPartitions)
	}
	if c.PartitionKey < 0 || c.PartitionKey >= c.TotalPartitions {
		return fmt.Errorf("%w: partition key %d out of range [0, %d)", ErrInvalidPartitionConfig, c.PartitionKey, c.TotalPartitions)
	}
	return nil
}

// CheckpointName is the checkpoint key of a projection instance. Partitions of
// one projection keep separate checkpoints.
func (c *ProcessorConfig) CheckpointName(projectionName string) string {
	if c.TotalPartitions <= 1 {
		return projectionName
	}
	return fmt.Sprintf("%s:%d/%d", projectionName, c.PartitionKey, c.TotalPartitions)
}

// Processor feeds one category to a projection.
type Processor struct {
	store       *store.Store
	checkpoints CheckpointStore
	config      ProcessorConfig
}

// NewProcessor creates a new projection processor.
func NewProcessor(s *store.Store, checkpoints CheckpointStore, config ProcessorConfig) *Processor {
	if config.PartitionStrategy == nil {
		config.PartitionStrategy = HashPartitionStrategy{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	return &Processor{
		store:       s,
		checkpoints: checkpoints,
		config:      config,
	}
}

// Run processes messages until the context is canceled. It returns the context
// error on cancellation and wraps ErrProjectionStopped on any other failure.
func (p *Processor) Run(ctx context.Context, proj Projection) error {
	if err := p.config.Validate(); err != nil {
		return err
	}
	name := p.config.CheckpointName(proj.Name())

	if p.config.Logger != nil {
		p.config.Logger.Info(ctx, "projection processor starting",
			"projection", name,
			"category", p.config.Category,
			"partition_key", p.config.PartitionKey,
			"total_partitions", p.config.TotalPartitions,
			"batch_size", p.config.BatchSize)
	}

	for {
		if err := ctx.Err(); err != nil {
			if p.config.Logger != nil {
				p.config.Logger.Info(ctx, "projection processor stopped",
					"projection", name,
					"reason", err)
			}
			return err
		}

		n, err := p.processBatch(ctx, proj, name)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "projection processor error",
					"projection", name,
					"error", err)
			}
			return fmt.Errorf("%w: %w", ErrProjectionStopped, err)
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(p.config.PollInterval):
		}
	}
}

// processBatch handles up to BatchSize messages after the checkpoint and
// returns how many it read.
func (p *Processor) processBatch(ctx context.Context, proj Projection, name string) (int, error) {
	checkpoint, err := p.checkpoints.GetCheckpoint(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	query := store.CategoryQuery{
		Category:           p.config.Category,
		Correlation:        p.config.Correlation,
		FromGlobalPosition: checkpoint + 1,
		Limit:              p.config.BatchSize,
	}

	var (
		read, processed int
		last            uint64
	)
	for m, err := range p.store.ReadCategory(ctx, query) {
		if err != nil {
			return read, fmt.Errorf("failed to read messages: %w", err)
		}
		read++
		last = m.GlobalPosition

		if !p.config.PartitionStrategy.ShouldProcess(m.CardinalID(), p.config.PartitionKey, p.config.TotalPartitions) {
			continue
		}

		if err := proj.Handle(ctx, m); err != nil {
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "projection handler error",
					"projection", name,
					"global_position", m.GlobalPosition,
					"stream_name", m.StreamName,
					"message_type", m.MessageType,
					"error", err)
			}
			handlerErr := fmt.Errorf("projection handler error at position %d: %w", m.GlobalPosition, err)
			// Keep the progress made before the failing message.
			if cpErr := p.checkpoints.UpdateCheckpoint(ctx, name, m.GlobalPosition-1); cpErr != nil {
				if p.config.Logger != nil {
					p.config.Logger.Error(ctx, "failed to save checkpoint after handler error",
						"projection", name,
						"checkpoint", m.GlobalPosition-1,
						"error", cpErr)
				}
				return read, errors.Join(handlerErr, fmt.Errorf("failed to update checkpoint: %w", cpErr))
			}
			return read, handlerErr
		}
		processed++
	}

	if read == 0 {
		return 0, nil
	}
	if err := p.checkpoints.UpdateCheckpoint(ctx, name, last); err != nil {
		return read, fmt.Errorf("failed to update checkpoint: %w", err)
	}

	if p.config.Logger != nil {
		p.config.Logger.Debug(ctx, "batch processed",
			"projection", name,
			"processed", processed,
			"skipped", read-processed,
			"checkpoint", last)
	}
	return read, nil
}
