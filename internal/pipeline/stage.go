// Package pipeline turns receipt images into categorized line items and
// budget figures into financial guidance.
//
// Every stage shares one control loop: render a prompt, call the model,
// validate the response, and re-prompt with corrective feedback until the
// response is accepted or the retry budget runs out. Transport failures
// are retried separately with exponential backoff. Extraction and advice
// fail hard on exhaustion; categorization degrades unresolved items to a
// sentinel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/jackzampolin/tally/internal/llmcall"
	"github.com/jackzampolin/tally/internal/prompts"
	"github.com/jackzampolin/tally/internal/providers"
	"github.com/jackzampolin/tally/internal/schema"
	"github.com/jackzampolin/tally/internal/structured"
)

// Stage names used in logs and call traces.
const (
	StageExtract    = "extract"
	StageCategorize = "categorize"
	StageAdvise     = "advise"
)

// Config wires a stage to its collaborators.
type Config struct {
	Client   providers.LLMClient // Required
	Schemas  *schema.Loader      // Required
	Prompts  *prompts.Resolver   // Required
	Recorder *llmcall.Recorder   // Optional
	Options  Options
	Logger   *slog.Logger
}

// stage holds what both extractor and categorizer need.
type stage struct {
	name     string
	client   providers.LLMClient
	schemas  *schema.Loader
	prompts  *prompts.Resolver
	recorder *llmcall.Recorder
	opts     Options
	logger   *slog.Logger
}

func newStage(name string, cfg Config) (*stage, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("%s: client is required", name)
	}
	if cfg.Schemas == nil {
		return nil, fmt.Errorf("%s: schema loader is required", name)
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("%s: prompt resolver is required", name)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &stage{
		name:     name,
		client:   cfg.Client,
		schemas:  cfg.Schemas,
		prompts:  cfg.Prompts,
		recorder: cfg.Recorder,
		opts:     cfg.Options.withDefaults(),
		logger:   logger.With("stage", name),
	}, nil
}

// promptKeys names the three templates a prompt ref expands to.
type promptKeys struct {
	system, user, repair string
}

// resolvePrompts checks that every template for ref exists before any
// model call is made.
func (s *stage) resolvePrompts(ref string) (promptKeys, error) {
	keys := promptKeys{
		system: ref + ".system",
		user:   ref + ".user",
		repair: ref + ".repair",
	}
	for _, key := range []string{keys.system, keys.user, keys.repair} {
		if _, err := s.prompts.Resolve(key); err != nil {
			return keys, resourceError(err)
		}
	}
	return keys, nil
}

func (s *stage) render(key string, vars map[string]any) (*prompts.Rendered, error) {
	rendered, err := s.prompts.Render(key, vars)
	if err != nil {
		return nil, resourceError(err)
	}
	return rendered, nil
}

func (s *stage) loadSchema(ref string) (*schema.Document, error) {
	doc, err := s.schemas.Load(ref)
	if err != nil {
		return nil, resourceError(err)
	}
	return doc, nil
}

func (s *stage) transition(state *State, next State, attrs ...any) {
	*state = next
	s.logger.Debug("stage transition", append([]any{"state", next.String()}, attrs...)...)
}

// callMeta identifies one inference for tracing.
type callMeta struct {
	taskID  string
	attempt int
	prompt  *prompts.Rendered
}

// infer sends req, retrying transport failures with exponential backoff
// and jitter. Each send gets its own RequestTimeout. A done caller context
// always yields ErrCancelled.
func (s *stage) infer(ctx context.Context, req *providers.ChatRequest, meta callMeta) (*providers.ChatResult, error) {
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	var result *providers.ChatResult
	err := retry.Do(
		func() error {
			res, err := s.send(ctx, req, meta)
			if err != nil {
				return err
			}
			result = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.opts.TransportRetries)+1),
		retry.Delay(s.opts.BackoffBase),
		retry.MaxDelay(s.opts.BackoffMax),
		retry.MaxJitter(s.opts.BackoffBase),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(providers.IsTransport),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("inference failed, backing off",
				"attempt", meta.attempt,
				"send", n+1,
				"model", req.Model,
				"error", err)
		}),
	)
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// send issues exactly one request under RequestTimeout and records it.
func (s *stage) send(ctx context.Context, req *providers.ChatRequest, meta callMeta) (*providers.ChatResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	req.RequestID = uuid.New().String()
	res, err := s.client.Chat(callCtx, req)

	// A provider that returns the raw deadline error still timed out.
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) &&
		!errors.Is(err, providers.ErrEndpointTimeout) {
		err = fmt.Errorf("%s: %w: %w", s.client.Name(), providers.ErrEndpointTimeout, err)
	}
	if err == nil && res == nil {
		err = &providers.EndpointError{Provider: s.client.Name(), Body: "empty result"}
	}

	temp := s.opts.Temperature
	opts := llmcall.RecordOptions{
		TaskID:      meta.taskID,
		Stage:       s.name,
		Attempt:     meta.attempt,
		Temperature: &temp,
		Err:         err,
	}
	if meta.prompt != nil {
		opts.PromptKey = meta.prompt.Key
		opts.PromptHash = meta.prompt.Hash
	}
	s.recorder.Record(res, opts)

	return res, err
}

// exchange is one schema-bound conversation driven by converge.
type exchange struct {
	taskID string
	model  string
	doc    *schema.Document
	format *providers.ResponseFormat

	// base is the opening conversation; prompt is its final user turn.
	base   []providers.Message
	prompt *prompts.Rendered

	// repairKey is rendered with repairVars plus Issue after each
	// rejected response.
	repairKey  string
	repairVars map[string]any
}

// outcome is how a converge loop ended. lastErr is set when the retry
// budget ran out or transport failures outlasted infer.
type outcome struct {
	attempts int
	state    State
	lastErr  error
}

// converge sends ex until a response decodes into out, replaying the
// rejected response and a repair prompt after each failure. The returned
// error is only ever ErrCancelled or a resource error.
func (s *stage) converge(ctx context.Context, ex exchange, out any) (outcome, error) {
	res := outcome{state: StatePromptRendered}
	messages := ex.base
	current := ex.prompt

	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			s.transition(&res.state, StateRetrying, "attempt", attempt, "error", res.lastErr)
		}
		res.attempts++

		s.transition(&res.state, StateInferenceIssued, "attempt", attempt)
		result, err := s.infer(ctx, &providers.ChatRequest{
			Messages:       messages,
			Model:          ex.model,
			Temperature:    s.opts.Temperature,
			MaxTokens:      s.opts.MaxTokens,
			ResponseFormat: ex.format,
		}, callMeta{taskID: ex.taskID, attempt: attempt, prompt: current})
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				s.transition(&res.state, StateFailed, "error", err)
				return res, err
			}
			// Transport retries are already spent inside infer.
			res.lastErr = err
			break
		}

		err = structured.Decode(ex.doc, result.Content, out)
		if err == nil {
			s.transition(&res.state, StateValidated, "attempt", attempt)
			res.lastErr = nil
			return res, nil
		}
		res.lastErr = err
		s.logger.Debug("rejected model output", "task_id", ex.taskID, "attempt", attempt, "error", err)

		vars := map[string]any{"Issue": structured.Feedback(err)}
		for k, v := range ex.repairVars {
			vars[k] = v
		}
		repair, err := s.render(ex.repairKey, vars)
		if err != nil {
			return res, err
		}
		current = repair
		messages = append(append([]providers.Message(nil), ex.base...),
			providers.Message{Role: providers.RoleAssistant, Content: structured.Truncate(result.Content, s.opts.MaxEchoChars)},
			providers.Message{Role: providers.RoleUser, Content: repair.Text},
		)
	}

	s.transition(&res.state, StateFailed, "attempts", res.attempts, "error", res.lastErr)
	return res, nil
}
