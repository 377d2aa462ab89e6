package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackzampolin/tally/internal/prompts"
	"github.com/jackzampolin/tally/internal/prompts/categorize"
	"github.com/jackzampolin/tally/internal/providers"
	"github.com/jackzampolin/tally/internal/schema"
	"github.com/jackzampolin/tally/internal/structured"
	"github.com/jackzampolin/tally/internal/types"
)

// CategorizeRequest is a list of items to label from a closed set.
type CategorizeRequest struct {
	Items      []types.Item
	Categories []string // Caller order is kept in prompts
	Model      string   // Client default when empty
	SchemaRef  string   // Default schema.CategorizedItems
	PromptRef  string   // Default categorize.Ref
	TaskID     string
}

// CategorizeResult always has one entry per input item, in input order.
type CategorizeResult struct {
	Items []types.CategorizedItem `json:"items"`

	// Degraded counts items that fell back to the sentinel.
	Degraded int   `json:"degraded"`
	Attempts int   `json:"attempts"`
	State    State `json:"state"`

	// LastError is the defect that caused degradation, if any.
	LastError error `json:"-"`
}

// Categorizer runs the categorization stage.
type Categorizer struct {
	*stage
}

// NewCategorizer creates a categorizer. cfg.Client can be text-only.
func NewCategorizer(cfg Config) (*Categorizer, error) {
	s, err := newStage(StageCategorize, cfg)
	if err != nil {
		return nil, err
	}
	return &Categorizer{stage: s}, nil
}

// assignment is one entry of the model's response.
type assignment struct {
	Index    int    `json:"index"`
	Category string `json:"category"`
}

type assignments struct {
	Items []assignment `json:"items"`
}

// indexedItem is how items are shown to the model.
type indexedItem struct {
	Index       int          `json:"index"`
	Description string       `json:"description"`
	Amount      json.Number  `json:"amount"`
	Quantity    *json.Number `json:"quantity,omitempty"`
}

// Categorize assigns every item a member of req.Categories. Items the
// model cannot place within the retry budget get the sentinel; this is
// reported through Degraded, not as an error.
//
// Errors: types.ErrInvalidCategorySet, ErrResource, and ErrCancelled.
func (c *Categorizer) Categorize(ctx context.Context, req CategorizeRequest) (*CategorizeResult, error) {
	set, err := types.NewCategorySet(req.Categories, c.opts.Sentinel)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return &CategorizeResult{Items: []types.CategorizedItem{}, State: StateValidated}, nil
	}
	if req.SchemaRef == "" {
		req.SchemaRef = schema.CategorizedItems
	}
	if req.PromptRef == "" {
		req.PromptRef = categorize.Ref
	}

	state := StateIdle
	logger := c.logger.With("task_id", req.TaskID, "model", req.Model)

	doc, err := c.loadSchema(req.SchemaRef)
	if err != nil {
		return nil, err
	}
	keys, err := c.resolvePrompts(req.PromptRef)
	if err != nil {
		return nil, err
	}

	// The host sees the allowed labels as an enum; local validation keeps
	// the plain shape so membership failures surface as CategoryError.
	hint, err := doc.WithEnum(schema.CategoryEnumPath, set.Members())
	if err != nil {
		return nil, resourceError(err)
	}
	format := &providers.ResponseFormat{Name: "categorized_items", Schema: hint}

	schemaText := doc.Text()
	categoryList := set.Enumerate()
	system, err := c.render(keys.system, nil)
	if err != nil {
		return nil, err
	}

	assigned := make(map[int]string, len(req.Items))
	pending := make([]int, len(req.Items))
	for i := range req.Items {
		pending[i] = i
	}

	var (
		messages []providers.Message
		current  *prompts.Rendered
		lastErr  error
		attempts int
	)

	for attempt := 0; attempt <= c.opts.MaxRetries && len(pending) > 0; attempt++ {
		itemsText, err := renderItems(req.Items, pending)
		if err != nil {
			return nil, err
		}

		if attempt == 0 {
			current, err = c.render(keys.user, map[string]any{
				"Categories": categoryList,
				"Items":      itemsText,
				"Schema":     schemaText,
			})
			if err != nil {
				return nil, err
			}
			messages = []providers.Message{
				{Role: providers.RoleSystem, Content: system.Text},
				{Role: providers.RoleUser, Content: current.Text},
			}
			c.transition(&state, StatePromptRendered, "items", len(pending))
		} else {
			c.transition(&state, StateRetrying, "attempt", attempt, "pending", len(pending), "error", lastErr)
		}
		attempts++

		c.transition(&state, StateInferenceIssued, "attempt", attempt)
		result, err := c.infer(ctx, &providers.ChatRequest{
			Messages:       messages,
			Model:          req.Model,
			Temperature:    c.opts.Temperature,
			MaxTokens:      c.opts.MaxTokens,
			ResponseFormat: format,
		}, callMeta{taskID: req.TaskID, attempt: attempt, prompt: current})
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				c.transition(&state, StateFailed, "error", err)
				return nil, err
			}
			lastErr = err
			break
		}

		var out assignments
		if err := structured.Decode(doc, result.Content, &out); err != nil {
			lastErr = err
		} else {
			pending, lastErr = apply(set, pending, out.Items, assigned)
		}
		if len(pending) == 0 {
			break
		}
		logger.Debug("rejected categorization output", "attempt", attempt, "pending", len(pending), "error", lastErr)

		itemsText, err = renderItems(req.Items, pending)
		if err != nil {
			return nil, err
		}
		repair, err := c.render(keys.repair, map[string]any{
			"Issue":      structured.Feedback(lastErr),
			"Items":      itemsText,
			"Categories": categoryList,
			"Schema":     schemaText,
		})
		if err != nil {
			return nil, err
		}
		messages = append(messages[:2:2],
			providers.Message{Role: providers.RoleAssistant, Content: structured.Truncate(result.Content, c.opts.MaxEchoChars)},
			providers.Message{Role: providers.RoleUser, Content: repair.Text},
		)
		current = repair
	}

	res := &CategorizeResult{
		Items:    make([]types.CategorizedItem, len(req.Items)),
		Attempts: attempts,
	}
	for i, item := range req.Items {
		ci := types.CategorizedItem{Item: item}
		if cat, ok := assigned[i]; ok {
			ci.Category = cat
		} else {
			ci.Category = set.Sentinel()
			ci.Uncategorized = true
			res.Degraded++
		}
		res.Items[i] = ci
	}

	if res.Degraded > 0 {
		res.LastError = lastErr
		c.transition(&state, StateFailed, "degraded", res.Degraded, "error", lastErr)
		logger.Warn("categorization degraded", "degraded", res.Degraded, "attempts", attempts, "error", lastErr)
	} else {
		c.transition(&state, StateValidated, "attempts", attempts)
	}
	res.State = state
	return res, nil
}

// apply records valid assignments for pending indices and returns the
// indices still unresolved, with a CategoryError describing why.
// The first valid assignment for an index wins.
func apply(set *types.CategorySet, pending []int, got []assignment, assigned map[int]string) ([]int, error) {
	want := make(map[int]bool, len(pending))
	for _, i := range pending {
		want[i] = true
	}

	cerr := &CategoryError{Invalid: map[int]string{}}
	for _, a := range got {
		if !want[a.Index] {
			if _, done := assigned[a.Index]; !done {
				cerr.Unknown = append(cerr.Unknown, a.Index)
			}
			continue
		}
		if !set.Contains(a.Category) {
			if _, seen := cerr.Invalid[a.Index]; !seen {
				cerr.Invalid[a.Index] = a.Category
			}
			continue
		}
		assigned[a.Index] = a.Category
		delete(want, a.Index)
		delete(cerr.Invalid, a.Index)
	}

	var remaining []int
	for _, i := range pending {
		if !want[i] {
			continue
		}
		remaining = append(remaining, i)
		if _, bad := cerr.Invalid[i]; !bad {
			cerr.Missing = append(cerr.Missing, i)
		}
	}
	if len(remaining) == 0 {
		return nil, nil
	}
	sort.Ints(cerr.Unknown)
	cerr.Allowed = set.Members()
	return remaining, cerr
}

// renderItems encodes the pending items with their original indices.
func renderItems(items []types.Item, pending []int) (string, error) {
	out := make([]indexedItem, 0, len(pending))
	for _, i := range pending {
		it := items[i]
		entry := indexedItem{
			Index:       i,
			Description: it.Description,
			Amount:      json.Number(it.Amount.String()),
		}
		if it.Quantity != nil {
			q := json.Number(it.Quantity.String())
			entry.Quantity = &q
		}
		out = append(out, entry)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode items: %w", err)
	}
	return string(data), nil
}
