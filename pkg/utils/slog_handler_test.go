package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogHandlerRoutesThroughStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sl, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  DEBUG,
		Output: &buf,
		Format: FormatJSON,
	})
	if err != nil {
		t.Fatalf("new structured logger: %v", err)
	}

	logger := slog.New(NewSlogHandler(sl)).With("component", "test")
	logger.Info("cleanup ran", "removed", 3)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v, raw: %s", err, buf.String())
	}
	if entry.Message != "cleanup ran" {
		t.Errorf("expected message %q, got %q", "cleanup ran", entry.Message)
	}
	if entry.Fields["component"] != "test" {
		t.Errorf("expected component field test, got %v", entry.Fields["component"])
	}
	removed, ok := entry.Fields["removed"].(float64)
	if !ok || removed != 3 {
		t.Errorf("expected removed=3, got %v", entry.Fields["removed"])
	}
}

func TestSlogHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	sl, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  WARN,
		Output: &buf,
		Format: FormatText,
	})
	if err != nil {
		t.Fatalf("new structured logger: %v", err)
	}

	logger := slog.New(NewSlogHandler(sl))
	logger.Info("should be suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected no output below WARN, got: %s", buf.String())
	}

	logger.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected warn message in output, got: %s", buf.String())
	}
}

func TestSlogHandlerWithGroupQualifiesKeys(t *testing.T) {
	var buf bytes.Buffer
	sl, err := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  DEBUG,
		Output: &buf,
		Format: FormatJSON,
	})
	if err != nil {
		t.Fatalf("new structured logger: %v", err)
	}

	logger := slog.New(NewSlogHandler(sl)).WithGroup("stats").With("count", 5)
	logger.Info("summary")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v, raw: %s", err, buf.String())
	}
	if entry.Fields["stats.count"] != float64(5) {
		t.Errorf("expected qualified key stats.count, got fields: %v", entry.Fields)
	}
}

func TestSlogHandlerEnabledCtxIgnored(t *testing.T) {
	sl, err := NewStructuredLogger(&StructuredLoggerConfig{Level: INFO, Output: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("new structured logger: %v", err)
	}
	h := NewSlogHandler(sl)
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected INFO enabled at INFO level")
	}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected DEBUG disabled at INFO level")
	}
}
