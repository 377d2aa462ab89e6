package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tally/internal/api"
	"github.com/jackzampolin/tally/internal/svcctx"
	"github.com/jackzampolin/tally/version"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Health check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server    string      `json:"server"`
	Version   string      `json:"version"`
	Providers []string    `json:"providers"`
	Stages    StageStatus `json:"stages"`
	Config    string      `json:"config,omitempty"`
}

// StageStatus shows which provider and model each stage uses.
type StageStatus struct {
	ExtractProvider    string   `json:"extract_provider"`
	ExtractModel       string   `json:"extract_model"`
	CategorizeProvider string   `json:"categorize_provider"`
	CategorizeModel    string   `json:"categorize_model"`
	AdviceProvider     string   `json:"advice_provider"`
	AdviceModel        string   `json:"advice_model"`
	Categories         []string `json:"categories"`
	MaxRetries         int      `json:"max_retries"`
	TransportRetries   int      `json:"transport_retries"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Server status
//	@Description	Registered providers and the stage configuration in effect
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Server:    "running",
		Version:   version.GitRelease,
		Providers: []string{},
	}

	if registry := svcctx.RegistryFrom(r.Context()); registry != nil {
		resp.Providers = registry.ListLLM()
	}

	if s := svcctx.ServicesFrom(r.Context()); s != nil {
		cfg := s.CurrentConfig()
		resp.Stages = StageStatus{
			ExtractProvider:    cfg.Defaults.OCRProvider,
			ExtractModel:       cfg.Defaults.OCRModel,
			CategorizeProvider: cfg.Defaults.CategorizeProvider,
			CategorizeModel:    cfg.Defaults.CategorizeModel,
			AdviceProvider:     cfg.Defaults.AdviceProvider,
			AdviceModel:        cfg.Defaults.AdviceModel,
			Categories:         cfg.Defaults.Categories,
			MaxRetries:         cfg.Pipeline.MaxRetries,
			TransportRetries:   cfg.Pipeline.TransportRetries,
		}
		if s.Config != nil {
			resp.Config = s.Config.ConfigFileUsed()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
