package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_ErrorLevel(t *testing.T) {
	logger := New("error", "text")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level to be disabled at error level")
	}
}

func TestNewWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "info", "json")
	logger.Info("snapshot fetched", "wallet", "GABC", "balances", 3)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "snapshot fetched" || line["wallet"] != "GABC" {
		t.Errorf("unexpected record: %v", line)
	}
}

func TestNewWriter_TextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestWithRequestID_And_RequestID(t *testing.T) {
	ctx := context.Background()
	if id := RequestID(ctx); id != "" {
		t.Errorf("Expected empty request ID, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithRequestID(ctx, "req-456")
	if id := RequestID(ctx); id != "req-456" {
		t.Errorf("Expected req-456, got %q", id)
	}
}

func TestWithLogger_And_FromContext(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != slog.Default() {
		t.Error("Expected default logger when none set")
	}

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	if FromContext(ctx) != custom {
		t.Error("Expected custom logger from context")
	}
}

func TestL_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWriter(&buf, "info", "text"))
	ctx = WithRequestID(ctx, "req-789")

	L(ctx).Info("scored")
	if !strings.Contains(buf.String(), "request_id=req-789") {
		t.Errorf("expected request id in %q", buf.String())
	}
}

func TestLOr(t *testing.T) {
	var fallback, scoped bytes.Buffer

	LOr(context.Background(), NewWriter(&fallback, "info", "text")).Info("from fallback")
	if !strings.Contains(fallback.String(), "from fallback") {
		t.Errorf("expected fallback logger to be used, got %q", fallback.String())
	}

	ctx := WithLogger(context.Background(), NewWriter(&scoped, "info", "text"))
	LOr(ctx, NewWriter(&fallback, "info", "text")).Info("from context")
	if !strings.Contains(scoped.String(), "from context") {
		t.Errorf("expected context logger to win, got %q", scoped.String())
	}

	if LOr(context.Background(), nil) == nil {
		t.Error("expected default logger for nil fallback")
	}
}
