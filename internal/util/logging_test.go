package util

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestLoggerFromContext(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Fatalf("empty context must fall back to the default logger")
	}
	if got := LoggerFromContext(nil); got != slog.Default() { //nolint:staticcheck
		t.Fatalf("nil context must fall back to the default logger")
	}

	stored := slog.New(slog.NewTextHandler(io.Discard, nil)).With("request_id", "req-1")
	ctx := ContextWithLogger(context.Background(), stored)
	if got := LoggerFromContext(ctx); got != stored {
		t.Fatalf("stored logger not returned")
	}
}
