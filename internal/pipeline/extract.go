package pipeline

import (
	"context"

	"github.com/jackzampolin/tally/internal/ingest"
	"github.com/jackzampolin/tally/internal/prompts/ocr"
	"github.com/jackzampolin/tally/internal/providers"
	"github.com/jackzampolin/tally/internal/schema"
	"github.com/jackzampolin/tally/internal/types"
)

// ExtractRequest is one image to transcribe.
type ExtractRequest struct {
	Image     []byte
	Model     string // Client default when empty
	SchemaRef string // Default schema.ReceiptItems
	PromptRef string // Default ocr.Ref
	TaskID    string // For tracing only
}

// ExtractResult is a successful extraction.
type ExtractResult struct {
	Items    []types.Item `json:"items"`
	Attempts int          `json:"attempts"`
	State    State        `json:"state"`
}

// Extractor runs the OCR stage.
type Extractor struct {
	*stage
}

// NewExtractor creates an extractor. cfg.Client should be vision-capable.
func NewExtractor(cfg Config) (*Extractor, error) {
	s, err := newStage(StageExtract, cfg)
	if err != nil {
		return nil, err
	}
	return &Extractor{stage: s}, nil
}

// Extract turns an image into a validated, ordered list of items.
// An image with no items yields an empty list, not an error.
//
// Errors: ingest.ErrInvalidImage for unusable input, ErrResource for
// schema or prompt problems, ErrCancelled when ctx ends, and an
// *ExtractionError (ErrExtractionFailed) when retries are exhausted.
func (e *Extractor) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if _, err := ingest.Validate(req.Image, "image"); err != nil {
		return nil, err
	}
	if req.SchemaRef == "" {
		req.SchemaRef = schema.ReceiptItems
	}
	if req.PromptRef == "" {
		req.PromptRef = ocr.Ref
	}

	state := StateIdle
	logger := e.logger.With("task_id", req.TaskID, "model", req.Model)

	doc, err := e.loadSchema(req.SchemaRef)
	if err != nil {
		return nil, err
	}
	keys, err := e.resolvePrompts(req.PromptRef)
	if err != nil {
		return nil, err
	}

	schemaText := doc.Text()
	system, err := e.render(keys.system, nil)
	if err != nil {
		return nil, err
	}
	user, err := e.render(keys.user, map[string]any{"Schema": schemaText})
	if err != nil {
		return nil, err
	}
	e.transition(&state, StatePromptRendered, "task_id", req.TaskID)

	var out types.Receipt
	res, err := e.converge(ctx, exchange{
		taskID: req.TaskID,
		model:  req.Model,
		doc:    doc,
		format: &providers.ResponseFormat{Name: "receipt_items", Schema: doc.Raw()},
		base: []providers.Message{
			{Role: providers.RoleSystem, Content: system.Text},
			{Role: providers.RoleUser, Content: user.Text, Images: [][]byte{req.Image}},
		},
		prompt:     user,
		repairKey:  keys.repair,
		repairVars: map[string]any{"Schema": schemaText},
	}, &out)
	if err != nil {
		return nil, err
	}
	if res.lastErr != nil {
		logger.Warn("extraction failed", "attempts", res.attempts, "error", res.lastErr)
		return nil, &ExtractionError{Attempts: res.attempts, LastErr: res.lastErr}
	}

	if out.Items == nil {
		out.Items = []types.Item{}
	}
	logger.Debug("extracted items", "items", len(out.Items), "attempts", res.attempts)
	return &ExtractResult{Items: out.Items, Attempts: res.attempts, State: res.state}, nil
}
