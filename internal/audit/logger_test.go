package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"twpm/internal/twerr"
)

func TestLogNoopForNilLoggerAndEmptyPath(t *testing.T) {
	var nilLogger *Logger
	if err := nilLogger.Log(Event{Operation: "op"}); err != nil {
		t.Fatalf("nil logger should be noop: %v", err)
	}
	if err := New("", "s").Log(Event{Operation: "op"}); err != nil {
		t.Fatalf("empty-path logger should be noop: %v", err)
	}
	if err := nilLogger.Phase("install", "x", "resolve", nil, nil); err != nil {
		t.Fatalf("nil logger phase should be noop: %v", err)
	}
}

func TestLogWritesJSONLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "tw_audit.log")
	logger := New(logPath, "session-1")

	if err := logger.Phase("install", "recurrence", "resolve", nil, map[string]string{"version": "1.0.0"}); err != nil {
		t.Fatalf("log first event: %v", err)
	}
	failure := twerr.New(twerr.ErrConflict, "MAN_CONFLICT", "/h/a owned by other")
	if err := logger.Phase("install", "recurrence", "conflicts", failure, nil); err != nil {
		t.Fatalf("log second event: %v", err)
	}

	blob, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(blob)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first event: %v", err)
	}
	if _, err := time.Parse(time.RFC3339Nano, first.Timestamp); err != nil {
		t.Fatalf("timestamp should be RFC3339Nano: %v", err)
	}
	if first.Session != "session-1" || first.Status != StatusOK || first.Fields["version"] != "1.0.0" {
		t.Fatalf("unexpected first event: %+v", first)
	}

	var second Event
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second event: %v", err)
	}
	if second.Status != StatusFailed || second.Code != "MAN_CONFLICT" || !strings.Contains(second.Message, "owned by other") {
		t.Fatalf("unexpected second event: %+v", second)
	}
}

func TestHistoryFiltersByApp(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tw_audit.log")
	logger := New(logPath, "s")
	_ = logger.Phase("install", "a", "commit", nil, nil)
	_ = logger.Phase("install", "b", "commit", errors.New("boom"), nil)
	_ = logger.Phase("remove", "a", "delete", nil, nil)
	f, _ := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	_, _ = f.WriteString("not json\n")
	_ = f.Close()

	events, err := History(logPath, "a")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(events) != 2 || events[0].Operation != "install" || events[1].Operation != "remove" {
		t.Fatalf("unexpected history %+v", events)
	}
	none, err := History(filepath.Join(t.TempDir(), "absent.log"), "a")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty history for missing log, got %v %v", none, err)
	}
}

func TestLogMkdirAllFailure(t *testing.T) {
	tmp := t.TempDir()
	blockedPath := filepath.Join(tmp, "blocked")
	if err := os.WriteFile(blockedPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("create blocking file: %v", err)
	}

	logger := New(filepath.Join(blockedPath, "events.log"), "s")
	if err := logger.Log(Event{Operation: "install"}); err == nil {
		t.Fatalf("expected mkdir failure")
	}
}

func TestLogOpenFileFailure(t *testing.T) {
	tmp := t.TempDir()
	dirPath := filepath.Join(tmp, "log-dir")
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		t.Fatalf("create directory path: %v", err)
	}

	logger := New(dirPath, "s")
	if err := logger.Log(Event{Operation: "install"}); err == nil {
		t.Fatalf("expected open file failure")
	}
}
