package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Info("server connected", "username", "alice", "address", "server.example.net")

	out := buf.String()
	if !strings.Contains(out, "[INFO]") {
		t.Errorf("output missing level: %q", out)
	}
	if !strings.Contains(out, "username=alice") {
		t.Errorf("output missing field: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	Info("search started", "search_id", "abc", "token", 42)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "search started" {
		t.Errorf("msg = %v, want %q", record["msg"], "search started")
	}
	if record["search_id"] != "abc" {
		t.Errorf("search_id = %v, want abc", record["search_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("should not appear")
	Info("should not appear either")
	Warn("visible")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("level filtering failed: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestSetLevelInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	// Invalid level should be ignored, INFO remains in effect.
	SetLevel("verbose")
	Info("still logged")

	if !strings.Contains(buf.String(), "still logged") {
		t.Error("invalid SetLevel changed the effective level")
	}
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}
