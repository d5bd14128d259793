package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Debug("debug msg")
	l.Info("info msg")
	l.Warn("warn msg")
	l.Error("error msg")

	out := buf.String()
	if strings.Contains(out, "debug msg") || strings.Contains(out, "info msg") {
		t.Errorf("below-level messages should be suppressed, got: %s", out)
	}
	if !strings.Contains(out, "warn msg") || !strings.Contains(out, "error msg") {
		t.Errorf("warn/error messages missing, got: %s", out)
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Debug("hidden")
	l.SetLevel(LevelDebug)
	l.Debug("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message logged before SetLevel")
	}
	if !strings.Contains(out, "visible") {
		t.Error("debug message missing after SetLevel")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.WithComponent("Monitor").Info("collecting")

	out := buf.String()
	if !strings.Contains(out, "monitor:") {
		t.Errorf("component header missing, got: %s", out)
	}
}

func TestAttrQuoting(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Info("event", "detail", "has spaces")

	out := buf.String()
	if !strings.Contains(out, `detail="has spaces"`) {
		t.Errorf("values with spaces should be quoted, got: %s", out)
	}
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	l.Info("hello", "key", "value")

	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"key":"value"`) {
		t.Errorf("unexpected JSON output: %s", out)
	}
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Audit("user logged in", "user", "admin")

	out := buf.String()
	if !strings.Contains(out, "user logged in") || !strings.Contains(out, "audit=true") {
		t.Errorf("audit fields missing, got: %s", out)
	}
	if !strings.Contains(out, "user=admin") {
		t.Errorf("audit attrs missing, got: %s", out)
	}
}
