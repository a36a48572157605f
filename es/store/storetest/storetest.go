// Package storetest is a conformance suite that every store.Backend passes.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/messtore/es"
	"github.com/getpup/messtore/es/store"
)

// Factory opens a fresh, empty store for one test.
type Factory func(t *testing.T, opts ...store.StoreOption) *store.Store

// Run executes the suite against the backend produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, newStore Factory)
	}{
		{"AppendAndReadStream", testAppendAndReadStream},
		{"PositionConflict", testPositionConflict},
		{"ConcurrentSameExpectedPosition", testConcurrentSameExpectedPosition},
		{"DuplicateID", testDuplicateID},
		{"GeneratedID", testGeneratedID},
		{"MalformedStreamName", testMalformedStreamName},
		{"OrdStrictlyIncreasing", testOrdStrictlyIncreasing},
		{"ReadCategory", testReadCategory},
		{"ReadCategoryCorrelation", testReadCategoryCorrelation},
		{"ReadLast", testReadLast},
		{"ReadByID", testReadByID},
		{"Pagination", testPagination},
		{"RoundTrip", testRoundTrip},
		{"NilData", testNilData},
		{"CorrelationRepeatedKey", testCorrelationRepeatedKey},
		{"ClockSkew", testClockSkew},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore)
		})
	}
}

// NewMessage returns a message with a unique id for tests.
func NewMessage(streamName string, expected uint64, messageType string) es.NewMessage {
	id, err := es.NewMessageID()
	if err != nil {
		panic(err)
	}
	return es.NewMessage{
		StreamName:       streamName,
		ExpectedPosition: expected,
		MessageType:      messageType,
		Data:             []byte(fmt.Sprintf(`{"n":%d}`, expected)),
		ID:               id,
	}
}

func testAppendAndReadStream(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	for i := uint64(0); i < 5; i++ {
		m, err := s.Append(ctx, NewMessage("order-1", i, "OrderUpdated"))
		require.NoError(t, err)
		assert.Equal(t, i, m.Position)
		assert.NotZero(t, m.GlobalPosition)
		assert.NotZero(t, m.Ord)
	}

	messages, err := store.Collect(s.ReadStream(ctx, "order-1", 0, 0))
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, m := range messages {
		assert.Equal(t, uint64(i), m.Position, "positions are gapless from 0")
		assert.Equal(t, "order-1", m.StreamName)
	}

	tail, err := store.Collect(s.ReadStream(ctx, "order-1", 3, 10))
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(3), tail[0].Position)

	empty, err := store.Collect(s.ReadStream(ctx, "order-2", 0, 10))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testPositionConflict(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	first, err := s.Append(ctx, NewMessage("order-1", 0, "OrderCreated"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.Position)

	_, err = s.Append(ctx, NewMessage("order-1", 0, "OrderCreated"))
	require.ErrorIs(t, err, es.ErrPositionConflict)
	conflict, ok := es.AsPositionConflict(err)
	require.True(t, ok)
	assert.Equal(t, "order-1", conflict.StreamName)
	assert.Equal(t, uint64(0), conflict.Expected)
	assert.Equal(t, int64(0), conflict.Actual)

	_, err = s.Append(ctx, NewMessage("order-1", 5, "OrderCreated"))
	require.ErrorIs(t, err, es.ErrPositionConflict)

	_, err = s.Append(ctx, NewMessage("order-9", 1, "OrderCreated"))
	require.ErrorIs(t, err, es.ErrPositionConflict, "new streams start at 0")
	conflict, _ = es.AsPositionConflict(err)
	assert.Equal(t, int64(-1), conflict.Actual)

	second, err := s.Append(ctx, NewMessage("order-1", 1, "OrderShipped"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Position)

	messages, err := store.Collect(s.ReadAll(ctx, 0, 100))
	require.NoError(t, err)
	assert.Len(t, messages, 2, "rejected appends write nothing")
}

func testConcurrentSameExpectedPosition(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
		others    []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, NewMessage("race-1", 0, "Raced"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, es.ErrPositionConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, others)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)

	messages, err := store.Collect(s.ReadStream(ctx, "race-1", 0, 100))
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func testDuplicateID(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	msg := NewMessage("order-1", 0, "OrderCreated")
	original, err := s.Append(ctx, msg)
	require.NoError(t, err)

	again := NewMessage("order-2", 0, "OrderCreated")
	again.ID = msg.ID
	_, err = s.Append(ctx, again)
	require.ErrorIs(t, err, es.ErrDuplicateID)

	existing, ok := es.AsDuplicate(err)
	require.True(t, ok)
	require.NotNil(t, existing)
	assert.Equal(t, original.GlobalPosition, existing.GlobalPosition)
	assert.Equal(t, "order-1", existing.StreamName)

	last, err := s.ReadLast(ctx, "order-2")
	require.NoError(t, err)
	assert.Nil(t, last, "duplicate append writes nothing")

	messages, err := store.Collect(s.ReadAll(ctx, 0, 100))
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func testGeneratedID(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	msg := NewMessage("order-1", 0, "OrderCreated")
	msg.ID = ""
	m, err := s.Append(ctx, msg)
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)

	found, err := s.ReadByID(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, m.GlobalPosition, found.GlobalPosition)
}

func testMalformedStreamName(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Append(ctx, NewMessage("order", 0, "OrderCreated"))
	require.ErrorIs(t, err, es.ErrMalformedStreamName)

	_, err = s.ReadLast(ctx, "order")
	require.ErrorIs(t, err, es.ErrMalformedStreamName)

	_, err = store.Collect(s.ReadCategory(ctx, store.CategoryQuery{Category: "order-1"}))
	require.ErrorIs(t, err, es.ErrMalformedStreamName)

	messages, err := store.Collect(s.ReadAll(ctx, 0, 100))
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func testOrdStrictlyIncreasing(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	const streams, perStream = 6, 10
	var wg sync.WaitGroup
	errs := make(chan error, streams*perStream)
	for i := 0; i < streams; i++ {
		wg.Add(1)
		go func(stream string) {
			defer wg.Done()
			for pos := uint64(0); pos < perStream; pos++ {
				if _, err := s.Append(ctx, NewMessage(stream, pos, "Ticked")); err != nil {
					errs <- err
				}
			}
		}(fmt.Sprintf("clock-%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	messages, err := store.Collect(s.ReadAll(ctx, 0, 1000))
	require.NoError(t, err)
	require.Len(t, messages, streams*perStream)
	for i := 1; i < len(messages); i++ {
		assert.Greater(t, messages[i].GlobalPosition, messages[i-1].GlobalPosition)
		assert.Greater(t, messages[i].Ord, messages[i-1].Ord,
			"ord must increase at global position %d", messages[i].GlobalPosition)
	}

	for i := 0; i < streams; i++ {
		stream, err := s.LoadStream(ctx, fmt.Sprintf("clock-%d", i))
		require.NoError(t, err)
		require.Equal(t, perStream, stream.Len())
		for pos, m := range stream.Messages {
			assert.Equal(t, uint64(pos), m.Position)
		}
	}
}

func testReadCategory(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	appendAll(t, s,
		NewMessage("order-1", 0, "OrderCreated"),
		NewMessage("payment-1", 0, "PaymentReceived"),
		NewMessage("order-2", 0, "OrderCreated"),
		NewMessage("order-1", 1, "OrderShipped"),
		NewMessage("order:command-1", 0, "Ship"),
	)

	messages, err := store.Collect(s.ReadCategory(ctx, store.CategoryQuery{Category: "order", Limit: 10}))
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"order-1", "order-2", "order-1"}, streamNames(messages))
	for i := 1; i < len(messages); i++ {
		assert.Greater(t, messages[i].GlobalPosition, messages[i-1].GlobalPosition)
	}

	from := messages[1].GlobalPosition
	rest, err := store.Collect(s.ReadCategory(ctx, store.CategoryQuery{Category: "order", FromGlobalPosition: from}))
	require.NoError(t, err)
	assert.Equal(t, []string{"order-2", "order-1"}, streamNames(rest), "from position is inclusive")

	none, err := store.Collect(s.ReadCategory(ctx, store.CategoryQuery{Category: "inventory"}))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testReadCategoryCorrelation(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	correlated := func(stream string, expected uint64, correlation string) es.NewMessage {
		m := NewMessage(stream, expected, "Reserved")
		m.Metadata = []byte(fmt.Sprintf(`{"correlationStreamName":%q}`, correlation))
		return m
	}
	appendAll(t, s,
		correlated("inventory-1", 0, "order-1"),
		correlated("inventory-2", 0, "checkout-7+retry"),
		NewMessage("inventory-3", 0, "Reserved"),
		correlated("inventory-1", 1, "order-2"),
		correlated("shipping-1", 0, "order-1"),
	)

	messages, err := store.Collect(s.ReadCategory(ctx, store.CategoryQuery{Category: "inventory", Correlation: "order"}))
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, uint64(0), messages[0].Position)
	assert.Equal(t, uint64(1), messages[1].Position)
	for _, m := range messages {
		assert.Equal(t, "inventory-1", m.StreamName)
		category, ok := m.CorrelationCategory()
		assert.True(t, ok)
		assert.Equal(t, "order", category)
	}

	checkout, err := store.Collect(s.ReadCategory(ctx, store.CategoryQuery{Category: "inventory", Correlation: "checkout"}))
	require.NoError(t, err)
	require.Len(t, checkout, 1)
	assert.Equal(t, "inventory-2", checkout[0].StreamName)

	all, err := store.Collect(s.ReadCategory(ctx, store.CategoryQuery{Category: "inventory"}))
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testReadLast(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	last, err := s.ReadLast(ctx, "order-1")
	require.NoError(t, err)
	assert.Nil(t, last)

	version, err := s.StreamVersion(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), version)

	appendAll(t, s,
		NewMessage("order-1", 0, "OrderCreated"),
		NewMessage("order-1", 1, "OrderPaid"),
		NewMessage("order-10", 0, "OrderCreated"),
	)

	last, err = s.ReadLast(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, uint64(1), last.Position)
	assert.Equal(t, "OrderPaid", last.MessageType)

	version, err = s.StreamVersion(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func testReadByID(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	msg := NewMessage("order-1", 0, "OrderCreated")
	appended, err := s.Append(ctx, msg)
	require.NoError(t, err)

	found, err := s.ReadByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, appended.GlobalPosition, found.GlobalPosition)
	assert.Equal(t, appended.Ord, found.Ord)

	missing, err := s.ReadByID(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testPagination(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, store.WithPageSize(3))

	for i := uint64(0); i < 10; i++ {
		_, err := s.Append(ctx, NewMessage("page-1", i, "Paged"))
		require.NoError(t, err)
	}

	all, err := store.Collect(s.ReadStream(ctx, "page-1", 0, 100))
	require.NoError(t, err)
	assert.Len(t, all, 10)

	limited, err := store.Collect(s.ReadStream(ctx, "page-1", 2, 7))
	require.NoError(t, err)
	require.Len(t, limited, 7)
	assert.Equal(t, uint64(2), limited[0].Position)
	assert.Equal(t, uint64(8), limited[6].Position)

	byCategory, err := store.Collect(s.ReadCategory(ctx, store.CategoryQuery{Category: "page", Limit: 4}))
	require.NoError(t, err)
	assert.Len(t, byCategory, 4)

	// Ranging again restarts the read.
	seq := s.ReadStream(ctx, "page-1", 0, 5)
	first, err := store.Collect(seq)
	require.NoError(t, err)
	second, err := store.Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, positions(first), positions(second))

	// Stopping early is allowed.
	count := 0
	for _, err := range s.ReadStream(ctx, "page-1", 0, 100) {
		require.NoError(t, err)
		count++
		if count == 4 {
			break
		}
	}
	assert.Equal(t, 4, count)
}

func testRoundTrip(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	data := []byte{0x00, 0x01, 0xfe, 0xff, '{', '}'}
	metadata := []byte(`{"correlationStreamName":"order-1",  "traceId":"a b"}`)
	msg := es.NewMessage{
		StreamName:       "binary-1+x",
		ExpectedPosition: 0,
		MessageType:      "Blob",
		Data:             data,
		Metadata:         metadata,
		ID:               "round-trip-id",
	}
	appended, err := s.Append(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, data, appended.Data)
	assert.Equal(t, metadata, appended.Metadata)
	assert.Equal(t, appended.Time, appended.Time.Truncate(time.Millisecond))

	byStream, err := store.Collect(s.ReadStream(ctx, "binary-1+x", 0, 1))
	require.NoError(t, err)
	require.Len(t, byStream, 1)

	byCategory, err := store.Collect(s.ReadCategory(ctx, store.CategoryQuery{Category: "binary"}))
	require.NoError(t, err)
	require.Len(t, byCategory, 1)

	for _, got := range []es.Message{byStream[0], byCategory[0]} {
		assert.Equal(t, data, got.Data)
		assert.Equal(t, metadata, got.Metadata)
		assert.Equal(t, "round-trip-id", got.ID)
		assert.Equal(t, "Blob", got.MessageType)
		assert.Equal(t, appended.GlobalPosition, got.GlobalPosition)
		assert.Equal(t, appended.Ord, got.Ord)
		assert.True(t, appended.Time.Equal(got.Time), "time %v != %v", appended.Time, got.Time)
		assert.Equal(t, "binary", got.Category())
		assert.Equal(t, "1", got.CardinalID())
	}

	noMetadata := NewMessage("binary-2", 0, "Blob")
	_, err = s.Append(ctx, noMetadata)
	require.NoError(t, err)
	last, err := s.ReadLast(ctx, "binary-2")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Empty(t, last.Metadata)
}

func testNilData(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	msg := NewMessage("empty-1", 0, "Nothing")
	msg.Data = nil
	appended, err := s.Append(ctx, msg)
	require.NoError(t, err)

	read, err := s.ReadByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, read)

	for _, m := range []es.Message{appended, *read} {
		assert.NotNil(t, m.Data)
		assert.Empty(t, m.Data)
	}
}

func testCorrelationRepeatedKey(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	metadata := []byte(`{"correlationStreamName":"alpha-1","correlationStreamName":"beta-1"}`)
	var want string
	for pos := uint64(0); pos < 3; pos++ {
		msg := NewMessage("payment-1", pos, "PaymentRequested")
		msg.Metadata = metadata
		m, err := s.Append(ctx, msg)
		require.NoError(t, err)
		category, ok := m.CorrelationCategory()
		require.True(t, ok)
		want = category
	}

	for _, correlation := range []string{"alpha", "beta"} {
		messages, err := store.Collect(s.ReadCategory(ctx, store.CategoryQuery{Category: "payment", Correlation: correlation}))
		require.NoError(t, err)
		if correlation == want {
			assert.Len(t, messages, 3, "correlation %s", correlation)
		} else {
			assert.Empty(t, messages, "correlation %s", correlation)
		}
		for _, m := range messages {
			category, _ := m.CorrelationCategory()
			assert.Equal(t, correlation, category)
		}
	}
}

func testClockSkew(t *testing.T, newStore Factory) {
	ctx := context.Background()

	times := []time.Time{
		time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	var (
		mu   sync.Mutex
		next int
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := times[next%len(times)]
		next++
		return now
	}
	s := newStore(t, store.WithClock(clock))

	for pos := range times {
		appended, err := s.Append(ctx, NewMessage("skew-1", uint64(pos), "Ticked"))
		require.NoError(t, err)
		assert.True(t, appended.Time.Equal(times[pos]), "message time follows the clock")
	}

	messages, err := store.Collect(s.ReadAll(ctx, 0, 10))
	require.NoError(t, err)
	require.Len(t, messages, len(times))
	assert.False(t, messages[0].OrdTime().Before(times[0]), "first ord carries the latest clock")
	for i := 1; i < len(messages); i++ {
		assert.Greater(t, messages[i].GlobalPosition, messages[i-1].GlobalPosition)
		assert.Greater(t, messages[i].Ord, messages[i-1].Ord,
			"ord must increase when the clock goes backwards, at global position %d", messages[i].GlobalPosition)
	}
}

func appendAll(t *testing.T, s *store.Store, messages ...es.NewMessage) {
	t.Helper()
	for _, m := range messages {
		_, err := s.Append(context.Background(), m)
		require.NoError(t, err, "append to %s", m.StreamName)
	}
}

func streamNames(messages []es.Message) []string {
	names := make([]string, len(messages))
	for i := range messages {
		names[i] = messages[i].StreamName
	}
	return names
}

func positions(messages []es.Message) []uint64 {
	out := make([]uint64, len(messages))
	for i := range messages {
		out[i] = messages[i].Position
	}
	return out
}
