package kv

import (
	"hash/fnv"
	"sync"
)

// DefaultLockStripes is the number of mutexes per lock table.
const DefaultLockStripes = 256

// lockTable maps keys onto a fixed set of mutexes using FNV-1a.
// Distinct keys may share a stripe; equal keys always do.
type lockTable struct {
	stripes []sync.Mutex
}

func newLockTable(n int) *lockTable {
	if n <= 0 {
		n = DefaultLockStripes
	}
	return &lockTable{stripes: make([]sync.Mutex, n)}
}

func (t *lockTable) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.stripes[h.Sum32()%uint32(len(t.stripes))]
}
