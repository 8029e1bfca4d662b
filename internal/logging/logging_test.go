package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log output is not valid JSON: %v\nOutput: %s", err, line)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf)

	logger.Info("test message")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["msg"] != "test message" {
		t.Errorf("unexpected output: %v", entries)
	}
}

func TestLoggerWithRequestInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf)

	info := &RequestInfo{
		RequestID:     "test-req-123",
		Collection:    "users",
		Endpoint:      "POST /api/query",
		Ref:           "payvex:collect",
		ServerTotalMs: 42.5,
		ExecMs:        38.2,
	}

	logger.WithRequestInfo(info).Info("request completed")
	entry := decodeLines(t, &buf)[0]

	tests := []struct {
		key      string
		expected interface{}
	}{
		{"request_id", "test-req-123"},
		{"collection", "users"},
		{"endpoint", "POST /api/query"},
		{"ref", "payvex:collect"},
		{"server_total_ms", 42.5},
		{"execution_ms", 38.2},
	}

	for _, tc := range tests {
		if got := entry[tc.key]; got != tc.expected {
			t.Errorf("%s: expected %v, got %v", tc.key, tc.expected, got)
		}
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf)

	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "ctx-req-456")
	ctx = ContextWithCollection(ctx, "posts")
	ctx = ContextWithEndpoint(ctx, "POST /api/mutation")

	logger.WithContext(ctx).Info("context test")
	entry := decodeLines(t, &buf)[0]

	if entry["request_id"] != "ctx-req-456" {
		t.Errorf("expected request_id='ctx-req-456', got: %v", entry["request_id"])
	}
	if entry["collection"] != "posts" {
		t.Errorf("expected collection='posts', got: %v", entry["collection"])
	}
	if entry["endpoint"] != "POST /api/mutation" {
		t.Errorf("expected endpoint, got: %v", entry["endpoint"])
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("expected empty request_id, got: %s", got)
	}
	if got := CollectionFromContext(ctx); got != "" {
		t.Errorf("expected empty collection, got: %s", got)
	}
	if got := RequestMetricsFromContext(ctx); got != nil {
		t.Errorf("expected nil metrics, got: %v", got)
	}

	now := time.Now()
	ctx = ContextWithRequestID(ctx, "req-123")
	ctx = ContextWithCollection(ctx, "users")
	ctx = ContextWithEndpoint(ctx, "POST /api/query")
	ctx = ContextWithRequestTime(ctx, now)

	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Errorf("expected request_id='req-123', got: %s", got)
	}
	if got := CollectionFromContext(ctx); got != "users" {
		t.Errorf("expected collection='users', got: %s", got)
	}
	if got := EndpointFromContext(ctx); got != "POST /api/query" {
		t.Errorf("expected endpoint, got: %s", got)
	}
	if got := RequestTimeFromContext(ctx); !got.Equal(now) {
		t.Errorf("expected time=%v, got: %v", now, got)
	}
}

func TestElapsedMs(t *testing.T) {
	ctx := context.Background()
	if got := ElapsedMs(ctx); got != 0 {
		t.Errorf("expected 0 for empty context, got: %f", got)
	}

	ctx = ContextWithRequestTime(ctx, time.Now().Add(-100*time.Millisecond))
	if elapsed := ElapsedMs(ctx); elapsed < 90 || elapsed > 1000 {
		t.Errorf("expected elapsed ~100ms, got: %f", elapsed)
	}
}

func TestOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf)
	ctx := ContextWithRequestID(context.Background(), "op-req")

	logger.Operation(ctx, "updateOne", "users", map[string]any{"id": "abc"}, map[string]any{"id": "abc", "name": "x"}, nil)
	logger.Operation(ctx, "deleteMany", "users", map[string]any{"where": "x"}, nil, errors.New("backend unavailable"))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 records, got %d", len(entries))
	}

	ok := entries[0]
	if ok["op"] != "updateOne" || ok["collection"] != "users" || ok["request_id"] != "op-req" {
		t.Errorf("unexpected success record: %v", ok)
	}
	if args, _ := ok["args"].(map[string]interface{}); args["id"] != "abc" {
		t.Errorf("expected args payload, got %v", ok["args"])
	}
	if _, present := ok["result"]; !present {
		t.Error("expected result in success record")
	}

	failed := entries[1]
	if failed["level"] != "ERROR" || failed["error"] != "backend unavailable" {
		t.Errorf("unexpected failure record: %v", failed)
	}
	if _, present := failed["result"]; present {
		t.Error("failure record must not carry a result")
	}
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithLevel(&buf, ParseLevel("warn"))

	logger.Info("dropped")
	logger.Warn("kept")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["msg"] != "kept" {
		t.Errorf("expected only the warning, got %v", entries)
	}

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf)

	logger.With("custom_field", "custom_value").Info("with test")

	if entry := decodeLines(t, &buf)[0]; entry["custom_field"] != "custom_value" {
		t.Errorf("expected custom_field='custom_value', got: %v", entry["custom_field"])
	}
}
