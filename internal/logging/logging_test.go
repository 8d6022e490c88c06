package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "engine").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["message"] != "shown" || entry["component"] != "engine" || entry["time"] == nil {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "bogus", Format: "console"}, &buf)
	logger.Info().Msg("price ticked")

	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "price ticked") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}
