package ordering

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisional(t *testing.T) {
	at := Epoch.Add(90 * time.Second)
	p := Provisional(at)

	assert.True(t, IsProvisional(p))
	assert.Equal(t, int64(90*TicksPerSecond)<<TickShift, -p)
}

func TestProvisional_Rounds(t *testing.T) {
	base := Epoch.Add(10 * time.Second)

	assert.Equal(t, Provisional(base), Provisional(base.Add(24*time.Millisecond)))
	assert.Equal(t, Provisional(base.Add(50*time.Millisecond)), Provisional(base.Add(26*time.Millisecond)))
}

func TestProvisional_BeforeEpoch(t *testing.T) {
	p := Provisional(Epoch.Add(-time.Hour))
	assert.True(t, IsProvisional(p))
	assert.Equal(t, int64(-1), p)
}

func TestResolve(t *testing.T) {
	clock := Provisional(Epoch.Add(time.Minute))

	assert.Equal(t, uint64(-clock), Resolve(clock, 0), "clock ahead of max")
	assert.Equal(t, uint64(-clock)+5, Resolve(clock, uint64(-clock)+4), "max ahead of clock")
	assert.Equal(t, uint64(-clock)+1, Resolve(clock, uint64(-clock)), "same tick")
	assert.Equal(t, uint64(7), Resolve(7, 3), "already positive")
	assert.Equal(t, uint64(10), Resolve(7, 9))
}

func TestTime(t *testing.T) {
	at := time.Date(2025, 3, 14, 15, 9, 26, 500_000_000, time.UTC)
	ord := Resolve(Provisional(at), 0)

	assert.True(t, Time(ord).Equal(at))
	assert.True(t, Time(ord+1000).Equal(at), "sequence bits don't move the time")
}

func TestSequencer_Next(t *testing.T) {
	clock := Provisional(Epoch.Add(time.Hour))
	s := NewSequencer(Assignment{GlobalPosition: 10, Ord: uint64(-clock) + 100})

	a, err := s.Next(clock)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), a.GlobalPosition)
	assert.Equal(t, uint64(-clock)+101, a.Ord)

	later := Provisional(Epoch.Add(2 * time.Hour))
	b, err := s.Next(later)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), b.GlobalPosition)
	assert.Equal(t, uint64(-later), b.Ord)

	// A clock going backwards cannot move ord backwards.
	c, err := s.Next(clock)
	require.NoError(t, err)
	assert.Equal(t, b.Ord+1, c.Ord)
	assert.Equal(t, c, s.Last())
}

func TestSequencer_Concurrent(t *testing.T) {
	s := NewSequencer(Assignment{})
	clock := Provisional(time.Now())

	const workers, perWorker = 8, 500
	results := make(chan Assignment, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				for {
					a, err := s.Next(clock)
					if err == nil {
						results <- a
						break
					}
				}
			}
		}()
	}
	wg.Wait()
	close(results)

	byPosition := make(map[uint64]uint64, workers*perWorker)
	for a := range results {
		_, dup := byPosition[a.GlobalPosition]
		require.False(t, dup, "global position %d assigned twice", a.GlobalPosition)
		byPosition[a.GlobalPosition] = a.Ord
	}

	require.Len(t, byPosition, workers*perWorker)
	var prev uint64
	for gp := uint64(1); gp <= workers*perWorker; gp++ {
		ord, ok := byPosition[gp]
		require.True(t, ok, "missing global position %d", gp)
		require.Greater(t, ord, prev, "ord not increasing at global position %d", gp)
		prev = ord
	}
}
