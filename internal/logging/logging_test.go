package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNew_FiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(slog.LevelWarn, &buf)
	logger.Info("dropped")
	logger.Warn("kept", "room", "INS201")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "kept" || entry["room"] != "INS201" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestContextWithLogger(t *testing.T) {
	t.Parallel()

	logger := New(slog.LevelInfo, &bytes.Buffer{})
	ctx := ContextWithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatalf("expected the attached logger back")
	}
	if FromContext(context.Background()) != nil {
		t.Fatalf("expected nil without an attached logger")
	}
	if ContextWithLogger(context.Background(), nil) != context.Background() {
		t.Fatalf("expected a nil logger to leave the context unchanged")
	}
}
