package store

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/getpup/messtore/es"
)

// ErrInvalidCategory indicates a category query without a usable category.
var ErrInvalidCategory = fmt.Errorf("%w: invalid category", es.ErrMalformedStreamName)

type pageFunc func(ctx context.Context, from uint64, limit int) ([]es.Message, error)

// ReadStream returns the messages of one stream in ascending position order,
// starting at fromPosition. At most limit messages are produced; a non-positive
// limit means DefaultReadLimit and larger limits are capped at MaxReadLimit.
//
// The sequence is lazy and pages through the backend as it is consumed. Ranging
// over it again restarts the read from fromPosition.
func (s *Store) ReadStream(ctx context.Context, streamName string, fromPosition uint64, limit int) iter.Seq2[es.Message, error] {
	return func(yield func(es.Message, error) bool) {
		if _, err := es.ParseStreamName(streamName); err != nil {
			yield(es.Message{}, err)
			return
		}
		fetch := func(ctx context.Context, from uint64, n int) ([]es.Message, error) {
			return s.backend.ReadStream(ctx, streamName, from, n)
		}
		s.paginate(ctx, ReadKindStream, fromPosition, clampLimit(limit), fetch, nextPosition, yield)
	}
}

// ReadCategory returns the messages of every stream in query.Category in
// ascending global position order, starting at query.FromGlobalPosition.
// A non-empty query.Correlation keeps only messages whose correlation category
// matches it.
func (s *Store) ReadCategory(ctx context.Context, query CategoryQuery) iter.Seq2[es.Message, error] {
	return func(yield func(es.Message, error) bool) {
		if err := validateCategory(query.Category); err != nil {
			yield(es.Message{}, err)
			return
		}
		if query.Correlation != "" {
			if err := validateCategory(query.Correlation); err != nil {
				yield(es.Message{}, err)
				return
			}
		}
		fetch := func(ctx context.Context, from uint64, n int) ([]es.Message, error) {
			q := query
			q.FromGlobalPosition = from
			q.Limit = n
			return s.backend.ReadCategory(ctx, q)
		}
		s.paginate(ctx, ReadKindCategory, query.FromGlobalPosition, clampLimit(query.Limit), fetch, nextGlobalPosition, yield)
	}
}

// ReadAll returns messages of all streams in ascending global position order.
func (s *Store) ReadAll(ctx context.Context, fromGlobalPosition uint64, limit int) iter.Seq2[es.Message, error] {
	return func(yield func(es.Message, error) bool) {
		fetch := func(ctx context.Context, from uint64, n int) ([]es.Message, error) {
			return s.backend.ReadAll(ctx, from, n)
		}
		s.paginate(ctx, ReadKindAll, fromGlobalPosition, clampLimit(limit), fetch, nextGlobalPosition, yield)
	}
}

// ReadLast returns the highest-position message of a stream, or nil when the
// stream is empty.
func (s *Store) ReadLast(ctx context.Context, streamName string) (*es.Message, error) {
	if _, err := es.ParseStreamName(streamName); err != nil {
		return nil, err
	}

	start := time.Now()
	msg, err := s.backend.ReadLast(ctx, streamName)
	if err != nil {
		return nil, es.NewBackendError("read last", err)
	}
	s.config.Metrics.ObserveRead(ReadKindLast, countOf(msg), time.Since(start))
	return msg, nil
}

// ReadByID returns the message stored under id, or nil.
func (s *Store) ReadByID(ctx context.Context, id string) (*es.Message, error) {
	start := time.Now()
	msg, err := s.backend.ReadByID(ctx, id)
	if err != nil {
		return nil, es.NewBackendError("read by id", err)
	}
	s.config.Metrics.ObserveRead(ReadKindID, countOf(msg), time.Since(start))
	return msg, nil
}

// StreamVersion returns the last position of a stream, or -1 when it is empty.
func (s *Store) StreamVersion(ctx context.Context, streamName string) (int64, error) {
	last, err := s.ReadLast(ctx, streamName)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return -1, nil
	}
	return int64(last.Position), nil
}

// LoadStream reads a whole stream into memory.
func (s *Store) LoadStream(ctx context.Context, streamName string) (es.Stream, error) {
	if _, err := es.ParseStreamName(streamName); err != nil {
		return es.Stream{}, err
	}

	stream := es.Stream{Name: streamName}
	var readErr error
	fetch := func(ctx context.Context, from uint64, n int) ([]es.Message, error) {
		return s.backend.ReadStream(ctx, streamName, from, n)
	}
	s.paginate(ctx, ReadKindStream, 0, math.MaxInt, fetch, nextPosition, func(m es.Message, err error) bool {
		if err != nil {
			readErr = err
			return false
		}
		stream.Messages = append(stream.Messages, m)
		return true
	})
	if readErr != nil {
		return es.Stream{}, readErr
	}
	return stream, nil
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[es.Message, error]) ([]es.Message, error) {
	var messages []es.Message
	for m, err := range seq {
		if err != nil {
			return messages, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (s *Store) paginate(
	ctx context.Context,
	kind string,
	from uint64,
	limit int,
	fetch pageFunc,
	next func(*es.Message) uint64,
	yield func(es.Message, error) bool,
) {
	start := time.Now()
	read := 0
	defer func() {
		s.config.Metrics.ObserveRead(kind, read, time.Since(start))
	}()

	remaining := limit
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			yield(es.Message{}, err)
			return
		}

		size := min(remaining, s.config.PageSize)
		page, err := fetch(ctx, from, size)
		if err != nil {
			yield(es.Message{}, es.NewBackendError("read "+kind, err))
			return
		}
		if s.config.Logger != nil {
			s.config.Logger.Debug(ctx, "page read", "kind", kind, "from", from, "count", len(page))
		}

		for i := range page {
			read++
			if !yield(page[i], nil) {
				return
			}
		}
		if len(page) < size {
			return
		}
		remaining -= len(page)
		from = next(&page[len(page)-1])
	}
}

func nextPosition(m *es.Message) uint64 {
	return m.Position + 1
}

func nextGlobalPosition(m *es.Message) uint64 {
	return m.GlobalPosition + 1
}

func validateCategory(category string) error {
	if category == "" || strings.ContainsAny(category, "-\x00") {
		return fmt.Errorf("%w %q", ErrInvalidCategory, category)
	}
	return nil
}

func countOf(m *es.Message) int {
	if m == nil {
		return 0
	}
	return 1
}
