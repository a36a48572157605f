package store

import (
	"time"

	"github.com/getpup/messtore/es"
)

const (
	// DefaultReadLimit is used when a read passes a non-positive limit.
	DefaultReadLimit = 1000

	// MaxReadLimit caps the limit of a single read call.
	MaxReadLimit = 10000

	// DefaultPageSize is the number of messages fetched per backend call.
	DefaultPageSize = 500
)

// StoreConfig contains configuration for a Store.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Metrics receives operation outcomes. Defaults to NopMetrics.
	Metrics Metrics

	// Clock returns the commit time of appends. Defaults to time.Now.
	Clock func() time.Time

	// PageSize is the number of messages a reader fetches per backend call.
	PageSize int
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Logger:   nil,
		Metrics:  NopMetrics{},
		Clock:    time.Now,
		PageSize: DefaultPageSize,
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) StoreOption {
	return func(c *StoreConfig) {
		if metrics != nil {
			c.Metrics = metrics
		}
	}
}

// WithClock overrides the wall clock used for message time and provisional ords.
func WithClock(clock func() time.Time) StoreOption {
	return func(c *StoreConfig) {
		if clock != nil {
			c.Clock = clock
		}
	}
}

// WithPageSize sets the reader page size, bounded by MaxReadLimit.
func WithPageSize(size int) StoreOption {
	return func(c *StoreConfig) {
		c.PageSize = size
	}
}

// NewStoreConfig creates a new store configuration with functional options.
//
// Example:
//
//	config := store.NewStoreConfig(
//	    store.WithLogger(myLogger),
//	    store.WithPageSize(200),
//	)
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.PageSize <= 0 || config.PageSize > MaxReadLimit {
		config.PageSize = DefaultPageSize
	}
	return config
}

// clampLimit applies DefaultReadLimit and MaxReadLimit.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultReadLimit
	case limit > MaxReadLimit:
		return MaxReadLimit
	default:
		return limit
	}
}
