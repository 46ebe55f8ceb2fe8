package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContextAddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLoggerTo(&buf, "info")
	ctx := WithCorrelationID(context.Background(), "corr-1")
	FromContext(ctx, logger).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["correlation_id"] != "corr-1" || line["msg"] != "hello" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestLevelVarIsAdjustable(t *testing.T) {
	var buf bytes.Buffer
	logger, level := NewLoggerTo(&buf, "info")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info")
	}
	level.Set(slog.LevelDebug)
	logger.Debug("shown")
	if buf.Len() == 0 {
		t.Fatalf("debug should pass after lowering the level")
	}
}
