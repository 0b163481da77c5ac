package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cb1.log")
	logger := Init(path, "debug").With("engine").WithInt("id", 1)
	logger.Debug("round finished")
	logger.Z().Info().Int("round", 3).Msg("flushed")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %q", data)
	}
	for _, want := range []string{`"component":"engine"`, `"id":1`, `"message":"round finished"`} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("expected %s in %s", want, lines[0])
		}
	}
	if !strings.Contains(lines[1], `"round":3`) {
		t.Fatalf("expected the round field in %s", lines[1])
	}
}

func TestInit_Level(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cb2.log")
	logger := Init(path, "warn")
	logger.Info("hidden")
	logger.Warn("shown")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Fatalf("level filter not applied: %q", data)
	}
}
