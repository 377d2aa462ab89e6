package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/tally/internal/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestNewManager_Defaults(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	cfg := mgr.Get()

	if cfg.Pipeline.MaxRetries != 2 || cfg.Pipeline.TransportRetries != 3 {
		t.Errorf("unexpected retry defaults: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.Sentinel != types.DefaultSentinel {
		t.Errorf("Sentinel = %q", cfg.Pipeline.Sentinel)
	}
	if len(cfg.Defaults.Categories) != len(types.DefaultCategories) {
		t.Errorf("Categories = %v", cfg.Defaults.Categories)
	}
	if p, ok := cfg.LLMProviders["ollama"]; !ok || !p.Enabled || p.BaseURL != "http://localhost:11434" {
		t.Errorf("unexpected ollama provider: %+v", p)
	}
}

func TestNewManager_FileOverridesSingleFields(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  max_retries: 5
  request_timeout: 30s
llm_providers:
  ollama:
    base_url: http://gpu-box:11434
defaults:
  categories: [Food, Fuel]
`)
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	cfg := mgr.Get()

	if cfg.Pipeline.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.TransportRetries != 3 {
		t.Errorf("TransportRetries should keep its default, got %d", cfg.Pipeline.TransportRetries)
	}
	if got := cfg.Defaults.Categories; len(got) != 2 || got[0] != "Food" {
		t.Errorf("Categories = %v", got)
	}
	if cfg.LLMProviders["ollama"].BaseURL != "http://gpu-box:11434" {
		t.Errorf("BaseURL = %q", cfg.LLMProviders["ollama"].BaseURL)
	}

	opts := cfg.PipelineOptions()
	if opts.RequestTimeout != 30*time.Second || opts.BackoffBase != time.Second || opts.MaxRetries != 5 {
		t.Errorf("unexpected options: %+v", opts)
	}
}

func TestNewManager_EnvOverride(t *testing.T) {
	t.Setenv("TALLY_PIPELINE_MAX_RETRIES", "0")
	mgr, err := NewManager(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := mgr.Get().Pipeline.MaxRetries; got != 0 {
		t.Errorf("MaxRetries = %d, want 0", got)
	}
}

func TestNewManager_Invalid(t *testing.T) {
	if _, err := NewManager(writeConfig(t, "pipeline:\n  backoff_base: soon\n")); err == nil {
		t.Error("expected error for bad duration")
	}
	if _, err := NewManager(writeConfig(t, "pipeline: [unclosed\n")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_TALLY_KEY", "sk-test")
	cfg := &Config{LLMProviders: map[string]LLMProviderCfg{
		"remote": {Type: "openai", APIKey: "${TEST_TALLY_KEY}", Model: "gpt-4o-mini", Timeout: "45s", Enabled: true},
	}}

	reg := cfg.ToProviderRegistryConfig()
	p := reg.LLMProviders["remote"]
	if p.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", p.APIKey)
	}
	if p.Timeout != 45*time.Second || p.DefaultModel != "gpt-4o-mini" || !p.Enabled {
		t.Errorf("unexpected provider: %+v", p)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("TALLY_A", "alpha")
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"${TALLY_A}", "alpha"},
		{"x-${TALLY_A}-${TALLY_UNSET_VAR}", "x-alpha-"},
	}
	for _, tt := range tests {
		if got := ResolveEnvVars(tt.in); got != tt.want {
			t.Errorf("ResolveEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# Tally configuration") {
		t.Error("missing header")
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("written default does not load: %v", err)
	}
	if mgr.Get().Defaults.OCRModel != DefaultConfig().Defaults.OCRModel {
		t.Errorf("OCRModel = %q", mgr.Get().Defaults.OCRModel)
	}
}

func TestManager_Lookup(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "batch:\n  max_concurrency: 9\n"))
	if err != nil {
		t.Fatal(err)
	}

	entry, err := mgr.Lookup("batch.max_concurrency")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if entry.Value != 9 || entry.Description == "" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	if _, err := mgr.Lookup("bad key!"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := mgr.Lookup("nope.nothing"); !errors.Is(err, ErrNoDefault) {
		t.Errorf("expected ErrNoDefault, got %v", err)
	}

	if len(mgr.Entries()) != len(DefaultEntries()) {
		t.Error("Entries() should cover every documented key")
	}
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"pipeline.max_retries", "llm_providers.local-gpu.base_url"} {
		if err := ValidateKey(key); err != nil {
			t.Errorf("ValidateKey(%q) = %v", key, err)
		}
	}
	for _, key := range []string{"", ".leading", "trailing.", "has space", "semi;colon"} {
		if err := ValidateKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestGetDefault(t *testing.T) {
	if def := GetDefault("pipeline.sentinel"); def == nil || def.Value != types.DefaultSentinel {
		t.Errorf("GetDefault(pipeline.sentinel) = %+v", def)
	}
	if GetDefault("nope") != nil {
		t.Error("expected nil for unknown key")
	}
}
