package config

// Config holds tally configuration.
// Stored at: ~/.tally/config.yaml
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	Resources    ResourcesCfg              `mapstructure:"resources" yaml:"resources"`
	Batch        BatchCfg                  `mapstructure:"batch" yaml:"batch"`
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
}

// LLMProviderCfg configures a model host.
type LLMProviderCfg struct {
	Type      string `mapstructure:"type" yaml:"type"`             // "ollama", "openai"
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`     // Host URL; OpenAI SDK default when empty
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	Model     string `mapstructure:"model" yaml:"model"`           // Default model for this host
	Timeout   string `mapstructure:"timeout" yaml:"timeout"`       // HTTP client timeout, e.g. "300s"
	KeepAlive string `mapstructure:"keep_alive" yaml:"keep_alive"` // Ollama keep_alive, e.g. "5m"
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg selects hosts and models for each stage.
type DefaultsCfg struct {
	OCRProvider        string   `mapstructure:"ocr_provider" yaml:"ocr_provider"`
	OCRModel           string   `mapstructure:"ocr_model" yaml:"ocr_model"` // Must be vision-capable
	CategorizeProvider string   `mapstructure:"categorize_provider" yaml:"categorize_provider"`
	CategorizeModel    string   `mapstructure:"categorize_model" yaml:"categorize_model"`
	AdviceProvider     string   `mapstructure:"advice_provider" yaml:"advice_provider"`
	AdviceModel        string   `mapstructure:"advice_model" yaml:"advice_model"` // Advice and budget analysis
	Categories         []string `mapstructure:"categories" yaml:"categories"` // Used when a request names none
}

// PipelineCfg holds retry and generation policy.
type PipelineCfg struct {
	MaxRetries       int     `mapstructure:"max_retries" yaml:"max_retries"`
	TransportRetries int     `mapstructure:"transport_retries" yaml:"transport_retries"`
	BackoffBase      string  `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax       string  `mapstructure:"backoff_max" yaml:"backoff_max"`
	RequestTimeout   string  `mapstructure:"request_timeout" yaml:"request_timeout"`
	Temperature      float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens        int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Sentinel         string  `mapstructure:"sentinel" yaml:"sentinel"`
}

// ResourcesCfg names schema and prompt resources. Empty directories use
// the embedded defaults only.
type ResourcesCfg struct {
	SchemaDir        string `mapstructure:"schema_dir" yaml:"schema_dir"`
	PromptDir        string `mapstructure:"prompt_dir" yaml:"prompt_dir"`
	OCRSchema        string `mapstructure:"ocr_schema" yaml:"ocr_schema"`
	OCRPrompt        string `mapstructure:"ocr_prompt" yaml:"ocr_prompt"`
	CategorizeSchema string `mapstructure:"categorize_schema" yaml:"categorize_schema"`
	CategorizePrompt string `mapstructure:"categorize_prompt" yaml:"categorize_prompt"`
}

// BatchCfg bounds concurrent work against the model host.
type BatchCfg struct {
	MaxConcurrency    int     `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// ServerCfg configures tally serve.
type ServerCfg struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        string `mapstructure:"port" yaml:"port"`
	MaxInFlight int    `mapstructure:"max_in_flight" yaml:"max_in_flight"` // Concurrent pipeline requests
}
