package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// capture routes the backend into a buffer for the duration of the test.
func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Configure(Options{Level: level, JSON: true, Output: &buf})
	t.Cleanup(func() { Configure(Options{Level: LevelInfo, JSON: true}) })
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLoggerCreation(t *testing.T) {
	logger := New("orchestrator")

	if logger.component != "orchestrator" {
		t.Errorf("expected component 'orchestrator', got '%s'", logger.component)
	}
	if logger.session != "" {
		t.Errorf("expected empty session, got '%s'", logger.session)
	}
}

func TestLoggerWithSession(t *testing.T) {
	base := New("orchestrator")
	logger := base.WithSession("01HX")

	if logger.session != "01HX" {
		t.Errorf("expected session '01HX', got '%s'", logger.session)
	}
	if base.session != "" {
		t.Error("WithSession must not mutate the receiver")
	}
}

func TestInfoEvent(t *testing.T) {
	buf := capture(t, LevelInfo)

	New("locator").WithSession("s1").Info("frames_resolved", map[string]interface{}{
		"left": "chatgpt",
	})

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	e := lines[0]
	if e["level"] != "info" {
		t.Errorf("expected level 'info', got '%v'", e["level"])
	}
	if e["event"] != "frames_resolved" {
		t.Errorf("expected event 'frames_resolved', got '%v'", e["event"])
	}
	if e["component"] != "locator" {
		t.Errorf("expected component 'locator', got '%v'", e["component"])
	}
	if e["session"] != "s1" {
		t.Errorf("expected session 's1', got '%v'", e["session"])
	}
	extra, ok := e["extra"].(map[string]interface{})
	if !ok || extra["left"] != "chatgpt" {
		t.Errorf("expected extra.left 'chatgpt', got '%v'", e["extra"])
	}
	if _, ok := e["ts"]; !ok {
		t.Error("expected ts field")
	}
}

func TestErrorEvent(t *testing.T) {
	buf := capture(t, LevelInfo)

	New("adapter").Error("send_failed", nil, errors.New("input not found"))

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["level"] != "error" {
		t.Errorf("expected level 'error', got '%v'", lines[0]["level"])
	}
	if lines[0]["error"] != "input not found" {
		t.Errorf("expected error message, got '%v'", lines[0]["error"])
	}
	if _, ok := lines[0]["extra"]; ok {
		t.Error("nil extra should be omitted")
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelWarn)

	l := New("keepalive")
	l.Debug("tick", nil)
	l.Info("tick", nil)
	l.Warn("slow_tick", nil, nil)

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected only the warning, got %d lines", len(lines))
	}
	if lines[0]["event"] != "slow_tick" {
		t.Errorf("expected 'slow_tick', got '%v'", lines[0]["event"])
	}
}

func TestTimedEvent(t *testing.T) {
	buf := capture(t, LevelInfo)

	New("adapter").TimedEvent("response_complete", time.Now().Add(-250*time.Millisecond), nil)

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	d, ok := lines[0]["duration_ms"].(float64)
	if !ok || d < 250 {
		t.Errorf("expected duration_ms >= 250, got '%v'", lines[0]["duration_ms"])
	}
}

func TestConsoleEncoder(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: LevelDebug, JSON: false, Output: &buf})
	defer Configure(Options{Level: LevelInfo, JSON: true})

	New("cli").Debug("started", nil)

	out := buf.String()
	if !strings.Contains(out, "started") {
		t.Errorf("expected event name in console output, got: %s", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("console encoder should not emit JSON, got: %s", out)
	}
}
