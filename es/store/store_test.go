package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/adapters/memory"
	"github.com/getpup/messtore/es/ordering"
	"github.com/getpup/messtore/es/store"
)

// scriptedBackend records which AppendTx calls the Writer makes.
type scriptedBackend struct {
	*memory.Backend
	caps      store.Capabilities
	commitErr error
	calls     []string
	mu        sync.Mutex
}

func (b *scriptedBackend) Capabilities() store.Capabilities {
	return b.caps
}

func (b *scriptedBackend) BeginAppend(ctx context.Context, streamName, id string) (store.AppendTx, error) {
	tx, err := b.Backend.BeginAppend(ctx, streamName, id)
	if err != nil {
		return nil, err
	}
	return &scriptedTx{AppendTx: tx, backend: b}, nil
}

func (b *scriptedBackend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

type scriptedTx struct {
	store.AppendTx
	backend *scriptedBackend
}

func (tx *scriptedTx) LastPosition(ctx context.Context) (int64, error) {
	tx.backend.record("LastPosition")
	return tx.AppendTx.LastPosition(ctx)
}

func (tx *scriptedTx) LookupID(ctx context.Context, id string) (*es.Message, error) {
	tx.backend.record("LookupID")
	return tx.AppendTx.LookupID(ctx, id)
}

func (tx *scriptedTx) Commit(ctx context.Context, d store.Draft) (es.Message, error) {
	tx.backend.record("Commit")
	if tx.backend.commitErr != nil {
		return es.Message{}, tx.backend.commitErr
	}
	return tx.AppendTx.Commit(ctx, d)
}

type recordingMetrics struct {
	appends map[string]int
	reads   map[string]int
	mu      sync.Mutex
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{appends: map[string]int{}, reads: map[string]int{}}
}

func (m *recordingMetrics) ObserveAppend(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends[outcome]++
}

func (m *recordingMetrics) ObserveRead(kind string, n int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[kind] += n
}

func newMessage(stream string, expected uint64, id string) es.NewMessage {
	return es.NewMessage{
		StreamName:       stream,
		ExpectedPosition: expected,
		MessageType:      "Tested",
		Data:             []byte(`{}`),
		ID:               id,
	}
}

func TestAppend_WriterChecksWhatBackendLeavesOpen(t *testing.T) {
	backend := &scriptedBackend{Backend: memory.New()}
	s := store.NewStore(backend, store.DefaultStoreConfig())

	_, err := s.Append(context.Background(), newMessage("order-1", 0, "a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"LastPosition", "LookupID", "Commit"}, backend.calls)
}

func TestAppend_SkipsChecksTheBackendEnforces(t *testing.T) {
	backend := &scriptedBackend{
		Backend: memory.New(),
		caps:    store.Capabilities{EnforcesPositionSequencing: true, EnforcesIDUniqueness: true},
	}
	s := store.NewStore(backend, store.DefaultStoreConfig())

	_, err := s.Append(context.Background(), newMessage("order-1", 0, "a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Commit"}, backend.calls)
}

func TestAppend_MalformedNameNeverReachesBackend(t *testing.T) {
	backend := &scriptedBackend{Backend: memory.New()}
	s := store.NewStore(backend, store.DefaultStoreConfig())

	_, err := s.Append(context.Background(), newMessage("order", 0, "a"))
	require.ErrorIs(t, err, es.ErrMalformedStreamName)
	assert.Empty(t, backend.calls)
}

func TestAppend_PositionConflictStopsBeforeIDCheck(t *testing.T) {
	backend := &scriptedBackend{Backend: memory.New()}
	s := store.NewStore(backend, store.DefaultStoreConfig())

	_, err := s.Append(context.Background(), newMessage("order-1", 3, "a"))
	require.ErrorIs(t, err, es.ErrPositionConflict)
	assert.Equal(t, []string{"LastPosition"}, backend.calls)
}

func TestAppend_CommitFailureIsBackendError(t *testing.T) {
	backend := &scriptedBackend{Backend: memory.New(), commitErr: errors.New("disk full")}
	s := store.NewStore(backend, store.DefaultStoreConfig())

	_, err := s.Append(context.Background(), newMessage("order-1", 0, "a"))
	require.ErrorIs(t, err, es.ErrBackend)
	assert.Contains(t, err.Error(), "disk full")

	// The boundary was released, so the next append can proceed.
	backend.commitErr = nil
	_, err = s.Append(context.Background(), newMessage("order-1", 0, "b"))
	require.NoError(t, err)
}

func TestAppend_CanceledContext(t *testing.T) {
	s := store.NewStore(memory.New(), store.DefaultStoreConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, newMessage("order-1", 0, "a"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestAppend_UsesClock(t *testing.T) {
	at := time.Date(2024, 2, 29, 8, 30, 0, 123_456_789, time.UTC)
	s := store.NewStore(memory.New(), store.NewStoreConfig(store.WithClock(func() time.Time { return at })))

	m, err := s.Append(context.Background(), newMessage("order-1", 0, "a"))
	require.NoError(t, err)
	assert.True(t, m.Time.Equal(at.Truncate(time.Millisecond)))
	assert.Equal(t, uint64(-ordering.Provisional(at.Truncate(time.Millisecond))), m.Ord)
	assert.WithinDuration(t, at, m.OrdTime(), 50*time.Millisecond)
}

func TestAppend_Metrics(t *testing.T) {
	metrics := newRecordingMetrics()
	s := store.NewStore(memory.New(), store.NewStoreConfig(store.WithMetrics(metrics)))
	ctx := context.Background()

	_, err := s.Append(ctx, newMessage("order-1", 0, "a"))
	require.NoError(t, err)
	_, err = s.Append(ctx, newMessage("order-1", 0, "b"))
	require.Error(t, err)
	_, err = s.Append(ctx, newMessage("order-2", 0, "a"))
	require.Error(t, err)
	_, err = s.Append(ctx, newMessage("order", 0, "c"))
	require.Error(t, err)

	_, err = store.Collect(s.ReadStream(ctx, "order-1", 0, 10))
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		store.OutcomeOK:               1,
		store.OutcomePositionConflict: 1,
		store.OutcomeDuplicateID:      1,
		store.OutcomeMalformed:        1,
	}, metrics.appends)
	assert.Equal(t, 1, metrics.reads[store.ReadKindStream])
}

func TestReadStream_DefaultAndMaxLimit(t *testing.T) {
	s := store.NewStore(memory.New(), store.NewStoreConfig(store.WithPageSize(store.MaxReadLimit)))
	ctx := context.Background()

	for i := uint64(0); i < store.DefaultReadLimit+5; i++ {
		_, err := s.Append(ctx, newMessage("bulk-1", i, ""))
		require.NoError(t, err)
	}

	messages, err := store.Collect(s.ReadStream(ctx, "bulk-1", 0, 0))
	require.NoError(t, err)
	assert.Len(t, messages, store.DefaultReadLimit)

	messages, err = store.Collect(s.ReadStream(ctx, "bulk-1", 0, store.MaxReadLimit*2))
	require.NoError(t, err)
	assert.Len(t, messages, store.DefaultReadLimit+5)
}

func TestNewStoreConfig_PageSizeBounds(t *testing.T) {
	assert.Equal(t, store.DefaultPageSize, store.NewStoreConfig(store.WithPageSize(0)).PageSize)
	assert.Equal(t, store.DefaultPageSize, store.NewStoreConfig(store.WithPageSize(store.MaxReadLimit+1)).PageSize)
	assert.Equal(t, 42, store.NewStoreConfig(store.WithPageSize(42)).PageSize)
}

func TestLoadStream(t *testing.T) {
	s := store.NewStore(memory.New(), store.NewStoreConfig(store.WithPageSize(2)))
	ctx := context.Background()

	for i := uint64(0); i < 5; i++ {
		_, err := s.Append(ctx, newMessage("order-1", i, ""))
		require.NoError(t, err)
	}

	stream, err := s.LoadStream(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 5, stream.Len())
	assert.Equal(t, int64(4), stream.Version())
	assert.Equal(t, uint64(5), stream.NextPosition())

	_, err = s.LoadStream(ctx, "broken")
	require.ErrorIs(t, err, es.ErrMalformedStreamName)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, store.OutcomeOK, store.Outcome(nil))
	assert.Equal(t, store.OutcomeError, store.Outcome(errors.New("x")))
	assert.Equal(t, store.OutcomePositionConflict, store.Outcome(&es.PositionConflictError{}))
}
