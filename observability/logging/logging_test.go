package logging

import (
	"log/slog"
	"testing"
	"time"
)

func TestRenameAttrMapsPipelineKeys(t *testing.T) {
	ts := renameAttr(nil, slog.Time(slog.TimeKey, time.Unix(0, 0)))
	if ts.Key != "timestamp" {
		t.Fatalf("expected timestamp key, got %q", ts.Key)
	}
	level := renameAttr(nil, slog.Any(slog.LevelKey, slog.LevelWarn))
	if level.Key != "severity" || level.Value.String() != "WARN" {
		t.Fatalf("expected severity WARN, got %q=%q", level.Key, level.Value.String())
	}
	msg := renameAttr(nil, slog.String(slog.MessageKey, "hello"))
	if msg.Key != "message" {
		t.Fatalf("expected message key, got %q", msg.Key)
	}
	other := renameAttr(nil, slog.String("loanId", "1"))
	if other.Key != "loanId" || other.Value.String() != "1" {
		t.Fatalf("expected untouched attr, got %q=%q", other.Key, other.Value.String())
	}
}

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for value, want := range cases {
		t.Setenv("KLEOLEND_LOG_LEVEL", value)
		if got := levelFromEnv(); got != want {
			t.Fatalf("level for %q: expected %v, got %v", value, want, got)
		}
	}
}
