// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/tally/internal/config"
	"github.com/jackzampolin/tally/internal/home"
	"github.com/jackzampolin/tally/internal/llmcall"
	"github.com/jackzampolin/tally/internal/pipeline"
	"github.com/jackzampolin/tally/internal/prompts"
	"github.com/jackzampolin/tally/internal/providers"
	"github.com/jackzampolin/tally/internal/schema"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Registry *providers.Registry
	Schemas  *schema.Loader
	Prompts  *prompts.Resolver
	Recorder *llmcall.Recorder
	Config   *config.Manager // Optional; defaults when nil
	Logger   *slog.Logger
	Home     *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// CurrentConfig returns the live configuration, or defaults when no
// manager is attached.
func (s *Services) CurrentConfig() *config.Config {
	if s.Config != nil {
		if cfg := s.Config.Get(); cfg != nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}

// ApplyConfig points the long-lived services at cfg: providers are
// rebuilt and the schema and prompt override directories swapped.
func (s *Services) ApplyConfig(cfg *config.Config) {
	if s.Registry != nil {
		s.Registry.Reload(cfg.ToProviderRegistryConfig())
	}
	var schemaFallback, promptFallback string
	if s.Home != nil {
		schemaFallback, promptFallback = s.Home.SchemasDir(), s.Home.PromptsDir()
	}
	if s.Schemas != nil {
		s.Schemas.SetOverrideDir(home.OverrideDir(cfg.Resources.SchemaDir, schemaFallback))
	}
	if s.Prompts != nil {
		s.Prompts.SetOverrideDir(home.OverrideDir(cfg.Resources.PromptDir, promptFallback))
	}
}

// Pipeline builds both stages from the current configuration and
// registry. Stages hold no per-call state, so building one per request
// picks up config reloads without coordination.
func (s *Services) Pipeline() (*pipeline.Pipeline, error) {
	extractor, err := s.Extractor()
	if err != nil {
		return nil, err
	}
	categorizer, err := s.Categorizer()
	if err != nil {
		return nil, err
	}
	return pipeline.New(extractor, categorizer), nil
}

// Extractor builds the OCR stage on the configured OCR provider.
func (s *Services) Extractor() (*pipeline.Extractor, error) {
	cfg := s.CurrentConfig()
	stageCfg, err := s.stageConfig(cfg, cfg.Defaults.OCRProvider)
	if err != nil {
		return nil, err
	}
	return pipeline.NewExtractor(stageCfg)
}

// Categorizer builds the categorization stage on the configured provider.
func (s *Services) Categorizer() (*pipeline.Categorizer, error) {
	cfg := s.CurrentConfig()
	stageCfg, err := s.stageConfig(cfg, cfg.Defaults.CategorizeProvider)
	if err != nil {
		return nil, err
	}
	return pipeline.NewCategorizer(stageCfg)
}

// Advisor builds the guidance stage on the configured advice provider.
func (s *Services) Advisor() (*pipeline.Advisor, error) {
	cfg := s.CurrentConfig()
	stageCfg, err := s.stageConfig(cfg, cfg.Defaults.AdviceProvider)
	if err != nil {
		return nil, err
	}
	return pipeline.NewAdvisor(stageCfg)
}

// AdviceModel returns model, or the configured advice model when empty.
func (s *Services) AdviceModel(model string) string {
	if model != "" {
		return model
	}
	return s.CurrentConfig().Defaults.AdviceModel
}

func (s *Services) stageConfig(cfg *config.Config, provider string) (pipeline.Config, error) {
	if s.Registry == nil {
		return pipeline.Config{}, fmt.Errorf("provider registry not configured")
	}
	client, err := s.Registry.GetLLM(provider)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Client:   client,
		Schemas:  s.Schemas,
		Prompts:  s.Prompts,
		Recorder: s.Recorder,
		Options:  cfg.PipelineOptions(),
		Logger:   s.Logger,
	}, nil
}

// ProcessDefaults fills unset request fields from configuration.
func (s *Services) ProcessDefaults(req pipeline.ProcessRequest) pipeline.ProcessRequest {
	cfg := s.CurrentConfig()
	if len(req.Categories) == 0 {
		req.Categories = cfg.Defaults.Categories
	}
	if req.ExtractModel == "" {
		req.ExtractModel = cfg.Defaults.OCRModel
	}
	if req.CategorizeModel == "" {
		req.CategorizeModel = cfg.Defaults.CategorizeModel
	}
	if req.ExtractSchemaRef == "" {
		req.ExtractSchemaRef = cfg.Resources.OCRSchema
	}
	if req.ExtractPromptRef == "" {
		req.ExtractPromptRef = cfg.Resources.OCRPrompt
	}
	if req.CategorizeSchemaRef == "" {
		req.CategorizeSchemaRef = cfg.Resources.CategorizeSchema
	}
	if req.CategorizePromptRef == "" {
		req.CategorizePromptRef = cfg.Resources.CategorizePrompt
	}
	return req
}
