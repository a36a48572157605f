package es_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/getpup/messtore/es"
)

// TestNoOpLogger verifies the NoOpLogger doesn't panic.
func TestNoOpLogger(t *testing.T) {
	ctx := context.Background()
	logger := es.NoOpLogger{}

	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

func TestSlogLogger(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := es.NewSlogLogger(slog.New(handler))

	logger.Debug(ctx, "hidden", "key", "value")
	if buf.Len() != 0 {
		t.Errorf("expected debug to be filtered, got %q", buf.String())
	}

	logger.Info(ctx, "message appended", "stream_name", "order-1", "position", 3)
	out := buf.String()
	if !strings.Contains(out, "message appended") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "stream_name=order-1") || !strings.Contains(out, "position=3") {
		t.Errorf("expected key/value pairs in output, got %q", out)
	}

	buf.Reset()
	logger.Error(ctx, "append failed", "error", "boom")
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("expected error level, got %q", buf.String())
	}
}

func TestNewSlogLogger_NilUsesDefault(t *testing.T) {
	logger := es.NewSlogLogger(nil)
	if logger == nil {
		t.Fatal("expected a logger")
	}
	logger.Debug(context.Background(), "should not panic")
}
