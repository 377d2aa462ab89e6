package home

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultDirName is the default name for the tally home directory.
	DefaultDirName = ".tally"

	// TracesDirName is the subdirectory for model call traces.
	TracesDirName = "traces"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the tally home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.tally).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// TracesDir returns the directory for JSONL call traces.
func (d *Dir) TracesDir() string {
	return filepath.Join(d.path, TracesDirName)
}

// TracePath returns a trace file path for a run started at t.
func (d *Dir) TracePath(t time.Time) string {
	return filepath.Join(d.TracesDir(), fmt.Sprintf("calls-%s.jsonl", t.UTC().Format("20060102-150405")))
}

// SchemasDir returns the conventional schema override directory.
func (d *Dir) SchemasDir() string {
	return filepath.Join(d.path, "schemas")
}

// PromptsDir returns the conventional prompt override directory.
func (d *Dir) PromptsDir() string {
	return filepath.Join(d.path, "prompts")
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Create traces directory (this also creates the parent)
	if err := os.MkdirAll(d.TracesDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create traces directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// OverrideDir returns dir if set, otherwise fallback when it exists.
// Empty means embedded resources only.
func OverrideDir(dir, fallback string) string {
	if dir != "" {
		return dir
	}
	if info, err := os.Stat(fallback); err == nil && info.IsDir() {
		return fallback
	}
	return ""
}
