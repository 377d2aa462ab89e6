package home

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-tally")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-tally" {
			t.Errorf("expected path /tmp/test-tally, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-tally")

	tests := []struct {
		name, got, want string
	}{
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-tally/config.yaml"},
		{"TracesDir", dir.TracesDir(), "/tmp/test-tally/traces"},
		{"SchemasDir", dir.SchemasDir(), "/tmp/test-tally/schemas"},
		{"PromptsDir", dir.PromptsDir(), "/tmp/test-tally/prompts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}

	t.Run("TracePath", func(t *testing.T) {
		p := dir.TracePath(time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC))
		if p != "/tmp/test-tally/traces/calls-20240309-140506.jsonl" {
			t.Errorf("unexpected trace path %s", p)
		}
	})
}

func TestDir_EnsureExists(t *testing.T) {
	tallyDir := filepath.Join(t.TempDir(), "tally-test")

	dir, err := New(tallyDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.Exists() {
		t.Error("directory should not exist yet")
	}

	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}
	if _, err := os.Stat(dir.TracesDir()); err != nil {
		t.Errorf("traces directory missing: %v", err)
	}
	if dir.ConfigExists() {
		t.Error("config should not exist yet")
	}

	// Idempotent
	if err := dir.EnsureExists(); err != nil {
		t.Errorf("second EnsureExists() error = %v", err)
	}
}

func TestOverrideDir(t *testing.T) {
	existing := t.TempDir()

	if got := OverrideDir("/explicit", existing); got != "/explicit" {
		t.Errorf("explicit dir should win, got %s", got)
	}
	if got := OverrideDir("", existing); got != existing {
		t.Errorf("existing fallback should be used, got %s", got)
	}
	if got := OverrideDir("", filepath.Join(existing, "missing")); got != "" {
		t.Errorf("missing fallback should be ignored, got %s", got)
	}
	if strings.Contains(OverrideDir("", ""), "/") {
		t.Error("empty fallback should give empty dir")
	}
}
