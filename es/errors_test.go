package es_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/getpup/messtore/es"
)

func TestPositionConflictError(t *testing.T) {
	err := fmt.Errorf("append: %w", &es.PositionConflictError{StreamName: "order-1", Expected: 0, Actual: 0})

	assert.True(t, errors.Is(err, es.ErrPositionConflict))
	assert.False(t, errors.Is(err, es.ErrDuplicateID))

	conflict, ok := es.AsPositionConflict(err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), conflict.Actual)
	assert.Contains(t, err.Error(), `stream "order-1"`)
}

func TestDuplicateIDError(t *testing.T) {
	existing := &es.Message{ID: "id-1", StreamName: "order-1", GlobalPosition: 7}
	err := fmt.Errorf("append: %w", &es.DuplicateIDError{ID: "id-1", Existing: existing})

	assert.True(t, errors.Is(err, es.ErrDuplicateID))

	got, ok := es.AsDuplicate(err)
	assert.True(t, ok)
	assert.Same(t, existing, got)

	_, ok = es.AsDuplicate(io.EOF)
	assert.False(t, ok)
}

func TestNewBackendError(t *testing.T) {
	assert.NoError(t, es.NewBackendError("read", nil))

	err := es.NewBackendError("read stream", io.ErrUnexpectedEOF)
	assert.True(t, errors.Is(err, es.ErrBackend))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, "read stream: unexpected EOF", err.Error())

	conflict := &es.PositionConflictError{StreamName: "order-1"}
	assert.Same(t, conflict, es.NewBackendError("append", conflict))

	wrapped := es.NewBackendError("outer", err)
	assert.Equal(t, err, wrapped)
}
