package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesToFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Info("trial started", "kind", "mining")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "triald.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}
	if entry["msg"] != "trial started" {
		t.Errorf("expected msg 'trial started', got %v", entry["msg"])
	}
	if entry["kind"] != "mining" {
		t.Errorf("expected kind 'mining', got %v", entry["kind"])
	}
}

func TestLogger_AttributePropagation(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	child := logger.WithTask("a1b2c3").WithBranch(2).WithPhase("evolving")
	child.Debug("line classified")
	_ = logger.Close()

	data, err := os.ReadFile(filepath.Join(dir, "triald.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}

	if entry["task_id"] != "a1b2c3" {
		t.Errorf("expected task_id 'a1b2c3', got %v", entry["task_id"])
	}
	if entry["branch"] != float64(2) {
		t.Errorf("expected branch 2, got %v", entry["branch"])
	}
	if entry["phase"] != "evolving" {
		t.Errorf("expected phase 'evolving', got %v", entry["phase"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelWarn)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Info("suppressed")
	logger.Warn("kept")
	_ = logger.Close()

	data, err := os.ReadFile(filepath.Join(dir, "triald.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	content := string(data)
	if strings.Contains(content, "suppressed") {
		t.Error("INFO message should be filtered at WARN level")
	}
	if !strings.Contains(content, "kept") {
		t.Error("WARN message should be written")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	// Must not panic and must be usable as a drop-in.
	logger.Info("discarded")
	logger.WithTask("x").Error("also discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close on NopLogger should not error: %v", err)
	}
}
