package store

import (
	"errors"
	"time"

	"github.com/getpup/messtore/es"
)

// Append outcomes reported to Metrics.
const (
	OutcomeOK               = "ok"
	OutcomePositionConflict = "position_conflict"
	OutcomeDuplicateID      = "duplicate_id"
	OutcomeMalformed        = "malformed_stream_name"
	OutcomeError            = "error"
)

// Read kinds reported to Metrics.
const (
	ReadKindStream   = "stream"
	ReadKindCategory = "category"
	ReadKindAll      = "all"
	ReadKindLast     = "last"
	ReadKindID       = "id"
)

// Metrics receives store operation measurements.
type Metrics interface {
	ObserveAppend(outcome string, duration time.Duration)
	ObserveRead(kind string, messages int, duration time.Duration)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

// ObserveAppend implements Metrics.
func (NopMetrics) ObserveAppend(string, time.Duration) {}

// ObserveRead implements Metrics.
func (NopMetrics) ObserveRead(string, int, time.Duration) {}

// Outcome classifies an append error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, es.ErrPositionConflict):
		return OutcomePositionConflict
	case errors.Is(err, es.ErrDuplicateID):
		return OutcomeDuplicateID
	case errors.Is(err, es.ErrMalformedStreamName):
		return OutcomeMalformed
	default:
		return OutcomeError
	}
}
