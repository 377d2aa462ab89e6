package pipeline

import (
	"context"
	"fmt"

	"github.com/jackzampolin/tally/internal/prompts"
	"github.com/jackzampolin/tally/internal/prompts/advice"
	budgetprompts "github.com/jackzampolin/tally/internal/prompts/budget"
	"github.com/jackzampolin/tally/internal/prompts/categorize"
	"github.com/jackzampolin/tally/internal/prompts/ocr"
	"github.com/jackzampolin/tally/internal/types"
)

// RegisterPrompts registers the embedded prompts for every stage.
func RegisterPrompts(r *prompts.Resolver) {
	ocr.RegisterPrompts(r)
	categorize.RegisterPrompts(r)
	advice.RegisterPrompts(r)
	budgetprompts.RegisterPrompts(r)
}

// ProcessRequest runs both stages for one image.
type ProcessRequest struct {
	TaskID string
	Image  []byte

	Categories []string

	ExtractModel    string
	CategorizeModel string

	ExtractSchemaRef    string
	ExtractPromptRef    string
	CategorizeSchemaRef string
	CategorizePromptRef string
}

// ProcessResult is the categorized output of one image.
type ProcessResult struct {
	TaskID   string                  `json:"task_id,omitempty"`
	Items    []types.CategorizedItem `json:"items"`
	Degraded int                     `json:"degraded"`

	ExtractAttempts    int `json:"extract_attempts"`
	CategorizeAttempts int `json:"categorize_attempts"`
}

// Pipeline chains extraction into categorization.
type Pipeline struct {
	extractor   *Extractor
	categorizer *Categorizer
}

// New creates a pipeline from its two stages.
func New(extractor *Extractor, categorizer *Categorizer) *Pipeline {
	return &Pipeline{extractor: extractor, categorizer: categorizer}
}

// Extractor returns the OCR stage.
func (p *Pipeline) Extractor() *Extractor { return p.extractor }

// Categorizer returns the categorization stage.
func (p *Pipeline) Categorizer() *Categorizer { return p.categorizer }

// Process extracts items from the image, then categorizes them.
// Extraction errors are returned as-is; categorization only fails for
// the reasons Categorize does.
func (p *Pipeline) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if p.extractor == nil || p.categorizer == nil {
		return nil, fmt.Errorf("pipeline is not fully configured")
	}
	// Reject a bad category set before paying for extraction.
	if _, err := types.NewCategorySet(req.Categories, p.categorizer.opts.Sentinel); err != nil {
		return nil, err
	}

	extracted, err := p.extractor.Extract(ctx, ExtractRequest{
		Image:     req.Image,
		Model:     req.ExtractModel,
		SchemaRef: req.ExtractSchemaRef,
		PromptRef: req.ExtractPromptRef,
		TaskID:    req.TaskID,
	})
	if err != nil {
		return nil, err
	}

	categorized, err := p.categorizer.Categorize(ctx, CategorizeRequest{
		Items:      extracted.Items,
		Categories: req.Categories,
		Model:      req.CategorizeModel,
		SchemaRef:  req.CategorizeSchemaRef,
		PromptRef:  req.CategorizePromptRef,
		TaskID:     req.TaskID,
	})
	if err != nil {
		return nil, err
	}

	return &ProcessResult{
		TaskID:             req.TaskID,
		Items:              categorized.Items,
		Degraded:           categorized.Degraded,
		ExtractAttempts:    extracted.Attempts,
		CategorizeAttempts: categorized.Attempts,
	}, nil
}
