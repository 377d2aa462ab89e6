// Package config loads tally configuration from file, environment, and
// defaults, and hot-reloads it when the file changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/tally/internal/batch"
	"github.com/jackzampolin/tally/internal/pipeline"
	"github.com/jackzampolin/tally/internal/providers"
)

// EnvPrefix prefixes environment overrides, e.g. TALLY_PIPELINE_MAX_RETRIES.
const EnvPrefix = "TALLY"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
// An empty cfgFile searches ./config.yaml then $HOME/.tally/config.yaml.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	v.SetDefault("llm_providers", providerDefaults())
	for _, entry := range DefaultEntries() {
		v.SetDefault(entry.Key, entry.Value)
	}

	// Environment variables with TALLY_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tally")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// providerDefaults renders the default providers as plain maps so a config
// file can override single fields.
func providerDefaults() map[string]any {
	out := make(map[string]any)
	for name, p := range DefaultConfig().LLMProviders {
		out[name] = map[string]any{
			"type":       p.Type,
			"base_url":   p.BaseURL,
			"api_key":    p.APIKey,
			"model":      p.Model,
			"timeout":    p.Timeout,
			"keep_alive": p.KeepAlive,
			"enabled":    p.Enabled,
		}
	}
	return out
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// Lookup returns the effective value of a single key.
func (cm *Manager) Lookup(key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.v.IsSet(key) {
		return Entry{}, fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	entry := Entry{Key: key, Value: cm.v.Get(key)}
	if def := GetDefault(key); def != nil {
		entry.Description = def.Description
	}
	return entry, nil
}

// Entries returns every documented key with its effective value.
func (cm *Manager) Entries() []Entry {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	entries := DefaultEntries()
	for i := range entries {
		entries[i].Value = cm.v.Get(entries[i].Key)
	}
	return entries
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. Invalid edits are
// ignored and the previous configuration stays active.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Validate checks durations and bounds.
func (c *Config) Validate() error {
	for name, p := range c.LLMProviders {
		if _, err := parseDuration(p.Timeout, 0); err != nil {
			return fmt.Errorf("llm_providers.%s.timeout: %w", name, err)
		}
	}
	for key, value := range map[string]string{
		"pipeline.backoff_base":    c.Pipeline.BackoffBase,
		"pipeline.backoff_max":     c.Pipeline.BackoffMax,
		"pipeline.request_timeout": c.Pipeline.RequestTimeout,
	} {
		if _, err := parseDuration(value, 0); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if c.Pipeline.MaxRetries < 0 || c.Pipeline.TransportRetries < 0 {
		return fmt.Errorf("pipeline retries cannot be negative")
	}
	if c.Batch.RequestsPerSecond < 0 {
		return fmt.Errorf("batch.requests_per_second cannot be negative")
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", s)
	}
	return d, nil
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		LLMProviders: make(map[string]providers.LLMProviderConfig),
	}

	for name, llm := range c.LLMProviders {
		timeout, _ := parseDuration(llm.Timeout, 0)
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:         llm.Type,
			BaseURL:      llm.BaseURL,
			APIKey:       ResolveEnvVars(llm.APIKey),
			DefaultModel: llm.Model,
			Timeout:      timeout,
			KeepAlive:    llm.KeepAlive,
			Enabled:      llm.Enabled,
		}
	}

	return cfg
}

// PipelineOptions converts the pipeline section to stage options.
func (c *Config) PipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.MaxRetries = c.Pipeline.MaxRetries
	opts.TransportRetries = c.Pipeline.TransportRetries
	opts.BackoffBase, _ = parseDuration(c.Pipeline.BackoffBase, pipeline.DefaultBackoffBase)
	opts.BackoffMax, _ = parseDuration(c.Pipeline.BackoffMax, pipeline.DefaultBackoffMax)
	opts.RequestTimeout, _ = parseDuration(c.Pipeline.RequestTimeout, pipeline.DefaultRequestTimeout)
	opts.Temperature = c.Pipeline.Temperature
	opts.MaxTokens = c.Pipeline.MaxTokens
	if c.Pipeline.Sentinel != "" {
		opts.Sentinel = c.Pipeline.Sentinel
	}
	return opts
}

// BatchConfig converts the batch section to runner settings.
func (c *Config) BatchConfig() batch.Config {
	return batch.Config{
		MaxConcurrency:    c.Batch.MaxConcurrency,
		RequestsPerSecond: c.Batch.RequestsPerSecond,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Tally configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell (or a .env file): export OPENAI_API_KEY=xxx
# Any scalar key can be overridden with TALLY_<SECTION>_<KEY>, e.g. TALLY_PIPELINE_MAX_RETRIES=3

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
