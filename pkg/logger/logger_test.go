package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestBuildJSON(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "json", zerolog.InfoLevel, "adaptive-ensemble")

	log.Debug().Msg("hidden")
	log.Info().Str("symbol", "BTC").Msg("recorded")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above debug level, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected json output: %v", err)
	}
	if entry["service"] != "adaptive-ensemble" || entry["symbol"] != "BTC" || entry["message"] != "recorded" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestBuildConsole(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "console", zerolog.DebugLevel, "")
	log.Debug().Msg("hello")
	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected invalid level error")
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(Config{Level: "warn", Output: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Warn().Msg("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Fatalf("expected entry in file, got %q", data)
	}
}
