package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jackzampolin/tally/internal/config"
	"github.com/jackzampolin/tally/internal/home"
	"github.com/jackzampolin/tally/internal/llmcall"
	"github.com/jackzampolin/tally/internal/pipeline"
	"github.com/jackzampolin/tally/internal/prompts"
	"github.com/jackzampolin/tally/internal/providers"
	"github.com/jackzampolin/tally/internal/schema"
	"github.com/jackzampolin/tally/internal/svcctx"
)

// getHome resolves the --home flag.
func getHome() (*home.Dir, error) {
	return home.New(homeDir)
}

// loadConfig resolves the config file: --config, then the home directory,
// then viper's search path.
func loadConfig(h *home.Dir) (*config.Manager, error) {
	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	return config.NewManager(path)
}

// buildServices wires config, providers, resources and tracing. The
// returned cleanup flushes pending call traces.
func buildServices() (*svcctx.Services, func(), error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	h, err := getHome()
	if err != nil {
		return nil, nil, err
	}
	mgr, err := loadConfig(h)
	if err != nil {
		return nil, nil, err
	}
	cfg := mgr.Get()

	registry := providers.NewRegistry()
	registry.SetLogger(logger)
	registry.Reload(cfg.ToProviderRegistryConfig())

	schemas := schema.NewLoader(home.OverrideDir(cfg.Resources.SchemaDir, h.SchemasDir()), logger)
	resolver := prompts.NewResolver(home.OverrideDir(cfg.Resources.PromptDir, h.PromptsDir()), logger)
	pipeline.RegisterPrompts(resolver)

	cleanup := func() {}
	var recorder *llmcall.Recorder
	if traceCalls {
		if err := h.EnsureExists(); err != nil {
			return nil, nil, err
		}
		path := h.TracePath(time.Now())
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		sink := llmcall.NewSink(llmcall.SinkConfig{Writer: f, Logger: logger})
		recorder = llmcall.NewRecorder(sink)
		logger.Info("tracing model calls", "path", path)
		cleanup = func() {
			sink.Stop()
			if err := f.Close(); err != nil {
				logger.Warn("failed to close trace file", "error", err)
			}
		}
	}

	logger.Debug("services ready",
		"config", mgr.ConfigFileUsed(),
		"providers", registry.ListLLM(),
		"home", h.Path())

	return &svcctx.Services{
		Registry: registry,
		Schemas:  schemas,
		Prompts:  resolver,
		Recorder: recorder,
		Config:   mgr,
		Logger:   logger,
		Home:     h,
	}, cleanup, nil
}
