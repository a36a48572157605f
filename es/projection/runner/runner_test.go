package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/adapters/memory"
	"github.com/getpup/messtore/es/projection"
	"github.com/getpup/messtore/es/store"
)

// mockProjection implements projection.Projection for testing
type mockProjection struct {
	name       string
	shouldFail bool

	mu      sync.Mutex
	handled map[uint64]int
}

func (m *mockProjection) Name() string {
	return m.name
}

func (m *mockProjection) Handle(_ context.Context, message es.Message) error {
	if m.shouldFail {
		return errors.New("mock projection error")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handled == nil {
		m.handled = map[uint64]int{}
	}
	m.handled[message.GlobalPosition]++
	return nil
}

func (m *mockProjection) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handled)
}

func newTestStore(t *testing.T, messages int) (*store.Store, *memory.Backend) {
	t.Helper()
	b := memory.New()
	s := store.NewStore(b, store.DefaultStoreConfig())
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < messages; i++ {
		_, err := s.Append(context.Background(), es.NewMessage{
			StreamName:  fmt.Sprintf("order-%d", i),
			MessageType: "OrderPlaced",
			Data:        []byte(`{}`),
		})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	return s, b
}

func orderConfig() projection.ProcessorConfig {
	config := projection.DefaultProcessorConfig()
	config.Category = "order"
	config.PollInterval = time.Millisecond
	return config
}

func TestRunner_Run_NoProjections(t *testing.T) {
	s, b := newTestStore(t, 0)
	err := New(s, b).Run(context.Background(), nil)
	if !errors.Is(err, ErrNoProjections) {
		t.Errorf("Expected ErrNoProjections, got %v", err)
	}
}

func TestRunner_Run_NilProjection(t *testing.T) {
	s, b := newTestStore(t, 0)
	err := New(s, b).Run(context.Background(), []ProjectionConfig{
		{Projection: nil, ProcessorConfig: orderConfig()},
	})
	if err == nil {
		t.Error("Expected error for nil projection")
	}
}

func TestRunner_Run_InvalidPartitionKey(t *testing.T) {
	s, b := newTestStore(t, 0)
	config := orderConfig()
	config.PartitionKey = 3
	config.TotalPartitions = 2

	err := New(s, b).Run(context.Background(), []ProjectionConfig{
		{Projection: &mockProjection{name: "test"}, ProcessorConfig: config},
	})
	if !errors.Is(err, ErrInvalidPartitionConfig) {
		t.Errorf("Expected ErrInvalidPartitionConfig, got %v", err)
	}
}

func TestRunner_Run_MissingCategory(t *testing.T) {
	s, b := newTestStore(t, 0)
	err := New(s, b).Run(context.Background(), []ProjectionConfig{
		{Projection: &mockProjection{name: "test"}, ProcessorConfig: projection.DefaultProcessorConfig()},
	})
	if !errors.Is(err, projection.ErrNoCategory) {
		t.Errorf("Expected ErrNoCategory, got %v", err)
	}
}

func TestRunner_Run_ContextCancellation(t *testing.T) {
	s, b := newTestStore(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(s, b).Run(ctx, []ProjectionConfig{
		{Projection: &mockProjection{name: "test"}, ProcessorConfig: orderConfig()},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRunner_Run_FailureCancelsOthers(t *testing.T) {
	s, b := newTestStore(t, 3)

	healthy := &mockProjection{name: "healthy"}
	failing := &mockProjection{name: "failing", shouldFail: true}

	done := make(chan error, 1)
	go func() {
		done <- New(s, b).Run(context.Background(), []ProjectionConfig{
			{Projection: healthy, ProcessorConfig: orderConfig()},
			{Projection: failing, ProcessorConfig: orderConfig()},
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, projection.ErrProjectionStopped) {
			t.Errorf("Expected ErrProjectionStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after a projection failed")
	}
}

func TestRunProjectionPartitions_InvalidTotalPartitions(t *testing.T) {
	s, b := newTestStore(t, 0)
	proj := &mockProjection{name: "test"}

	for _, total := range []int{0, -1} {
		err := RunProjectionPartitions(context.Background(), s, b, proj, orderConfig(), total)
		if !errors.Is(err, ErrInvalidPartitionConfig) {
			t.Errorf("total %d: expected ErrInvalidPartitionConfig, got %v", total, err)
		}
	}
}

func TestRunProjectionPartitions_HandlesEveryMessageOnce(t *testing.T) {
	s, b := newTestStore(t, 50)
	proj := &mockProjection{name: "orders"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunProjectionPartitions(ctx, s, b, proj, orderConfig(), 4)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for proj.count() < 50 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	proj.mu.Lock()
	defer proj.mu.Unlock()
	if len(proj.handled) != 50 {
		t.Fatalf("Expected 50 messages handled, got %d", len(proj.handled))
	}
	for gp, n := range proj.handled {
		if n != 1 {
			t.Errorf("message %d handled %d times", gp, n)
		}
	}
}

func TestRunMultipleProjections_CallsRunnerRun(t *testing.T) {
	s, b := newTestStore(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunMultipleProjections(ctx, s, b, []ProjectionConfig{
		{Projection: &mockProjection{name: "test1"}, ProcessorConfig: orderConfig()},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNew(t *testing.T) {
	s, b := newTestStore(t, 0)
	r := New(s, b)
	if r == nil {
		t.Fatal("New returned nil")
	}
	if r.store != s {
		t.Error("Runner store not set correctly")
	}
	if r.checkpoints != b {
		t.Error("Runner checkpoints not set correctly")
	}
}
