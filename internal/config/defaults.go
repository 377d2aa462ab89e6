package config

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/jackzampolin/tally/internal/types"
)

var (
	// ErrNoDefault is returned when no default value exists for a config key.
	ErrNoDefault = errors.New("no default exists")

	// ErrInvalidKey is returned when a config key contains invalid characters.
	ErrInvalidKey = errors.New("invalid config key")
)

// DefaultConfig returns configuration with sensible defaults: a local
// Ollama host serving both stages.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"ollama": {
				Type:      "ollama",
				BaseURL:   "http://localhost:11434",
				Timeout:   "300s",
				KeepAlive: "5m",
				Enabled:   true,
			},
			"openai": {
				Type:    "openai",
				APIKey:  "${OPENAI_API_KEY}",
				Model:   "gpt-4o-mini",
				Timeout: "120s",
				Enabled: false,
			},
		},
		Defaults: DefaultsCfg{
			OCRProvider:        "ollama",
			OCRModel:           "qwen3-vl:8b",
			CategorizeProvider: "ollama",
			CategorizeModel:    "qwen3:14b",
			AdviceProvider:     "ollama",
			AdviceModel:        "qwen3:14b",
			Categories:         append([]string(nil), types.DefaultCategories...),
		},
		Pipeline: PipelineCfg{
			MaxRetries:       2,
			TransportRetries: 3,
			BackoffBase:      "1s",
			BackoffMax:       "10s",
			RequestTimeout:   "120s",
			Temperature:      0,
			Sentinel:         types.DefaultSentinel,
		},
		Resources: ResourcesCfg{
			OCRSchema:        "receipt_items",
			OCRPrompt:        "ocr",
			CategorizeSchema: "categorized_items",
			CategorizePrompt: "categorize",
		},
		Batch: BatchCfg{
			MaxConcurrency:    4,
			RequestsPerSecond: 2,
		},
		Server: ServerCfg{
			Host:        "127.0.0.1",
			Port:        "8080",
			MaxInFlight: 4,
		},
	}
}

// Entry is one documented configuration key.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns the scalar settings with their defaults.
// Provider maps are documented in the generated config file instead.
func DefaultEntries() []Entry {
	d := DefaultConfig()
	return []Entry{
		// Stage selection
		{Key: "defaults.ocr_provider", Value: d.Defaults.OCRProvider, Description: "Provider used for extraction"},
		{Key: "defaults.ocr_model", Value: d.Defaults.OCRModel, Description: "Vision model used for extraction"},
		{Key: "defaults.categorize_provider", Value: d.Defaults.CategorizeProvider, Description: "Provider used for categorization"},
		{Key: "defaults.categorize_model", Value: d.Defaults.CategorizeModel, Description: "Text model used for categorization"},
		{Key: "defaults.advice_provider", Value: d.Defaults.AdviceProvider, Description: "Provider used for advice and budget analysis"},
		{Key: "defaults.advice_model", Value: d.Defaults.AdviceModel, Description: "Text model used for advice and budget analysis"},
		{Key: "defaults.categories", Value: d.Defaults.Categories, Description: "Category set used when a request names none"},

		// Retry policy
		{Key: "pipeline.max_retries", Value: d.Pipeline.MaxRetries, Description: "Corrective re-prompts after a rejected response"},
		{Key: "pipeline.transport_retries", Value: d.Pipeline.TransportRetries, Description: "Re-sends after an unreachable, timed-out, or failed endpoint call"},
		{Key: "pipeline.backoff_base", Value: d.Pipeline.BackoffBase, Description: "First transport backoff delay"},
		{Key: "pipeline.backoff_max", Value: d.Pipeline.BackoffMax, Description: "Transport backoff cap"},
		{Key: "pipeline.request_timeout", Value: d.Pipeline.RequestTimeout, Description: "Timeout for each inference call"},
		{Key: "pipeline.temperature", Value: d.Pipeline.Temperature, Description: "Sampling temperature"},
		{Key: "pipeline.max_tokens", Value: d.Pipeline.MaxTokens, Description: "Completion token cap (0 = host default)"},
		{Key: "pipeline.sentinel", Value: d.Pipeline.Sentinel, Description: "Category stamped on items that could not be categorized"},

		// Resources
		{Key: "resources.schema_dir", Value: d.Resources.SchemaDir, Description: "Directory of schema overrides (reloaded by tally serve)"},
		{Key: "resources.prompt_dir", Value: d.Resources.PromptDir, Description: "Directory of prompt overrides (reloaded by tally serve)"},
		{Key: "resources.ocr_schema", Value: d.Resources.OCRSchema, Description: "Schema id for extraction output"},
		{Key: "resources.ocr_prompt", Value: d.Resources.OCRPrompt, Description: "Prompt ref for extraction"},
		{Key: "resources.categorize_schema", Value: d.Resources.CategorizeSchema, Description: "Schema id for categorization output"},
		{Key: "resources.categorize_prompt", Value: d.Resources.CategorizePrompt, Description: "Prompt ref for categorization"},

		// Concurrency
		{Key: "batch.max_concurrency", Value: d.Batch.MaxConcurrency, Description: "Images processed at once by tally batch"},
		{Key: "batch.requests_per_second", Value: d.Batch.RequestsPerSecond, Description: "Image start rate for tally batch (0 = unlimited)"},
		{Key: "server.host", Value: d.Server.Host, Description: "Address tally serve binds to"},
		{Key: "server.port", Value: d.Server.Port, Description: "Port tally serve listens on"},
		{Key: "server.max_in_flight", Value: d.Server.MaxInFlight, Description: "Concurrent pipeline requests served"},
	}
}

// GetDefault returns the default entry for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	// Don't allow keys starting or ending with dots
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}
