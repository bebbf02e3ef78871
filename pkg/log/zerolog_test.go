package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZerologAdapter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologAdapter(&buf, FormatAuto, "info").With(String("role", "recorder"))

	logger.Debug("hidden")
	logger.Info("captured",
		Int("lines", 3),
		Uint64("bytes", 128),
		Duration("age", 2*time.Second),
		Err(errors.New("port busy")),
	)

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug line to be filtered, got %s", out)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("expected one JSON line for a non-terminal writer, got %q: %v", out, err)
	}
	for key, want := range map[string]interface{}{
		"level":   "info",
		"message": "captured",
		"role":    "recorder",
		"lines":   float64(3),
		"bytes":   float64(128),
		"error":   "port busy",
	} {
		if entry[key] != want {
			t.Errorf("expected %s = %v, got %v", key, want, entry[key])
		}
	}
}

func TestZerologAdapter_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	NewZerologAdapter(&buf, FormatConsole, "debug").Debug("console line")
	out := buf.String()
	if !strings.Contains(out, "console line") || strings.HasPrefix(out, "{") {
		t.Errorf("expected console output, got %q", out)
	}
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NewNoopLogger()
	l.With(String("k", "v")).Error("discarded", Err(errors.New("x")))
}
