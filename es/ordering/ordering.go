// Package ordering assigns the store-wide ord key.
//
// An ord is derived from a coarse wall clock and then resolved against the
// running maximum so that it is strictly increasing in commit order:
//
//	provisional = -(round((t - Epoch) * TicksPerSecond) << TickShift)
//	ord         = max(-provisional, previousMax + 1)
//
// The provisional value is negative so a row that still carries it can be told
// apart from a resolved one. The low TickShift bits leave room for 65536 messages
// per tick before the ord runs ahead of the clock.
package ordering

import (
	"math"
	"time"
)

const (
	// TicksPerSecond is the clock resolution of an ord (50ms).
	TicksPerSecond = 20

	// TickShift moves ticks into the high bits of the ord.
	TickShift = 16
)

// Epoch is the zero point of the ord clock.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// EpochUnix is Epoch in unix seconds, as used by the SQL triggers.
const EpochUnix = 1577836800

// Ticks returns the number of rounded ticks between Epoch and t.
// Times before Epoch map to 0.
func Ticks(t time.Time) int64 {
	d := t.Sub(Epoch)
	if d <= 0 {
		return 0
	}
	return int64(math.Round(d.Seconds() * TicksPerSecond))
}

// Provisional returns the negated clock-derived ord for a write at t.
// The result is always negative, even for clocks at or before Epoch.
func Provisional(t time.Time) int64 {
	v := Ticks(t) << TickShift
	if v == 0 {
		v = 1
	}
	return -v
}

// IsProvisional reports whether v is an unresolved (negative) ord.
func IsProvisional(v int64) bool {
	return v < 0
}

// Resolve returns max(|provisional|, previousMax+1).
func Resolve(provisional int64, previousMax uint64) uint64 {
	clock := provisional
	if clock < 0 {
		clock = -clock
	}
	next := previousMax + 1
	if uint64(clock) > next {
		return uint64(clock)
	}
	return next
}

// Time returns the wall-clock time encoded in a resolved ord.
func Time(ord uint64) time.Time {
	ticks := int64(ord >> TickShift)
	return Epoch.Add(time.Duration(ticks) * (time.Second / TicksPerSecond))
}
