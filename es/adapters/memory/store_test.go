package memory_test

import (
	"testing"

	"github.com/getpup/messtore/es/adapters/memory"
	"github.com/getpup/messtore/es/store"
	"github.com/getpup/messtore/es/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts ...store.StoreOption) *store.Store {
		s := store.NewStore(memory.New(), store.NewStoreConfig(opts...))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
