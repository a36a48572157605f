package kv

import (
	"sync"
	"sync/atomic"
)

// watermark tracks the highest global position below which every append has
// finished, successfully or not. Global scans stop at it so a reader never sees
// position n+1 while n is still being written.
type watermark struct {
	done    map[uint64]struct{}
	visible atomic.Uint64
	mu      sync.Mutex
}

func newWatermark(visible uint64) *watermark {
	w := &watermark{done: make(map[uint64]struct{})}
	w.visible.Store(visible)
	return w
}

// Visible returns the highest fully settled global position.
func (w *watermark) Visible() uint64 {
	return w.visible.Load()
}

// Complete marks globalPosition as settled.
func (w *watermark) Complete(globalPosition uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	visible := w.visible.Load()
	if globalPosition <= visible {
		return
	}
	w.done[globalPosition] = struct{}{}
	for {
		if _, ok := w.done[visible+1]; !ok {
			break
		}
		delete(w.done, visible+1)
		visible++
	}
	w.visible.Store(visible)
}
