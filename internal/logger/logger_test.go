package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text")
	defer InitWithWriter(&bytes.Buffer{}, "INFO", "text")

	Info("chunk uploaded", "file", "abc", "index", 3)

	out := buf.String()
	if !strings.Contains(out, "[INFO]") {
		t.Errorf("expected level marker in output, got %q", out)
	}
	if !strings.Contains(out, "chunk uploaded") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "file=abc") || !strings.Contains(out, "index=3") {
		t.Errorf("expected attrs in output, got %q", out)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")
	defer InitWithWriter(&bytes.Buffer{}, "INFO", "text")

	Warn("rate limited", "retry_after", "2s")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if rec["msg"] != "rate limited" {
		t.Errorf("expected msg field, got %v", rec["msg"])
	}
	if rec["retry_after"] != "2s" {
		t.Errorf("expected retry_after field, got %v", rec["retry_after"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")
	defer InitWithWriter(&bytes.Buffer{}, "INFO", "text")

	Debug("hidden")
	Info("also hidden")
	Error("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug/info suppressed at WARN level, got %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("expected error logged at WARN level, got %q", out)
	}
}

func TestInvalidLevelIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")
	defer InitWithWriter(&bytes.Buffer{}, "INFO", "text")

	SetLevel("bogus")
	Info("still works")

	if !strings.Contains(buf.String(), "still works") {
		t.Error("expected logger to keep previous level on invalid input")
	}
}
