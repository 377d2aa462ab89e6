package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tally/internal/api"
	"github.com/jackzampolin/tally/internal/prompts"
	"github.com/jackzampolin/tally/internal/svcctx"
)

// PromptSummary describes one registered prompt.
type PromptSummary struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Variables   []string `json:"variables,omitempty"`
	Hash        string   `json:"hash"`
	IsOverride  bool     `json:"is_override"`
}

// ListPromptsResponse is the response for listing prompts.
type ListPromptsResponse struct {
	Prompts []PromptSummary `json:"prompts"`
}

// ListPromptsEndpoint handles GET /prompts.
type ListPromptsEndpoint struct{}

func (e *ListPromptsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/prompts", e.handler
}

func (e *ListPromptsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List prompts
//	@Description	Registered prompt templates and whether an override is active
//	@Tags			prompts
//	@Produce		json
//	@Success		200	{object}	ListPromptsResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/prompts [get]
func (e *ListPromptsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.ServicesFrom(r.Context())
	if s == nil || s.Prompts == nil {
		writeError(w, http.StatusServiceUnavailable, "prompt resolver not initialized")
		return
	}

	embedded := s.Prompts.AllEmbedded()
	resp := ListPromptsResponse{Prompts: make([]PromptSummary, 0, len(embedded))}
	for _, p := range embedded {
		summary := PromptSummary{
			Key:         p.Key,
			Description: p.Description,
			Variables:   p.Variables,
			Hash:        p.Hash,
		}
		if resolved, err := s.Prompts.Resolve(p.Key); err == nil {
			summary.Hash = resolved.Hash
			summary.Variables = resolved.Variables
			summary.IsOverride = resolved.IsOverride
		}
		resp.Prompts = append(resp.Prompts, summary)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ListPromptsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "prompts",
		Short: "List prompt templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListPromptsResponse
			if err := client.Get(cmd.Context(), "/prompts", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetPromptEndpoint handles GET /prompts/{key}.
type GetPromptEndpoint struct{}

func (e *GetPromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/prompts/{key}", e.handler
}

func (e *GetPromptEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get prompt
//	@Description	The effective template text for a key, override first
//	@Tags			prompts
//	@Produce		json
//	@Param			key	path		string	true	"Prompt key, e.g. ocr.user"
//	@Success		200	{object}	prompts.ResolvedPrompt
//	@Failure		404	{object}	ErrorResponse
//	@Router			/prompts/{key} [get]
func (e *GetPromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.ServicesFrom(r.Context())
	if s == nil || s.Prompts == nil {
		writeError(w, http.StatusServiceUnavailable, "prompt resolver not initialized")
		return
	}

	resolved, err := s.Prompts.Resolve(r.PathValue("key"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, prompts.ErrTemplateNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resolved)
}

func (e *GetPromptEndpoint) Command(getServerURL func() string) *cobra.Command {
	var textOnly bool
	cmd := &cobra.Command{
		Use:   "prompt <key>",
		Short: "Show the effective template for a prompt key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp prompts.ResolvedPrompt
			if err := client.Get(cmd.Context(), "/prompts/"+args[0], &resp); err != nil {
				return err
			}
			if textOnly {
				fmt.Print(resp.Text)
				return nil
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&textOnly, "text", false, "Print only the template text")
	return cmd
}
