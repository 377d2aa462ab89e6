package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const OpenAIName = "openai"

// OpenAIConfig holds configuration for an OpenAI-compatible chat client.
// Point BaseURL at Ollama's /v1 endpoint (or any compatible host) to run locally.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // Optional; SDK default when empty
	DefaultModel string
	Timeout      time.Duration
	ImageMIME    string       // Fallback MIME type when image bytes are not recognised (default image/jpeg)
	HTTPClient   *http.Client // Optional (tests)
}

// OpenAIClient implements LLMClient using the official OpenAI SDK.
type OpenAIClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	imageMIME    string
	client       openai.Client
}

// NewOpenAIClient creates a new OpenAI-compatible client. SDK retries are
// disabled: one Chat call is one request.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.ImageMIME == "" {
		cfg.ImageMIME = "image/jpeg"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		imageMIME:    cfg.ImageMIME,
		client:       openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Chat sends one chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  OpenAIName,
		ModelUsed: model,
	}
	if model == "" {
		return result.fail("invalid_request", start, fmt.Errorf("openai: no model specified"))
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, c.convertMessage(m))
	}

	if req.ResponseFormat != nil && len(req.ResponseFormat.Schema) > 0 {
		var schemaDoc map[string]any
		if err := json.Unmarshal(req.ResponseFormat.Schema, &schemaDoc); err != nil {
			return result.fail("invalid_request", start, fmt.Errorf("openai: invalid response schema: %w", err))
		}
		name := req.ResponseFormat.Name
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schemaDoc,
				},
			},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params, option.WithHeader("X-Request-ID", requestID))
	if err != nil {
		return result.fail("http_error", start, mapOpenAIError(err))
	}
	if len(completion.Choices) == 0 {
		return result.fail("empty_response", start, &EndpointError{
			Provider:   OpenAIName,
			StatusCode: http.StatusOK,
			Body:       "no choices in response",
		})
	}

	result.Success = true
	result.Content = completion.Choices[0].Message.Content
	if completion.Model != "" {
		result.ModelUsed = completion.Model
	}
	result.PromptTokens = int(completion.Usage.PromptTokens)
	result.CompletionTokens = int(completion.Usage.CompletionTokens)
	result.TotalTokens = int(completion.Usage.TotalTokens)
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func (c *OpenAIClient) convertMessage(m Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case RoleSystem:
		return openai.SystemMessage(m.Content)
	case RoleAssistant:
		return openai.AssistantMessage(m.Content)
	}

	if len(m.Images) == 0 {
		return openai.UserMessage(m.Content)
	}
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(m.Content),
	}
	for _, img := range m.Images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:" + c.mimeFor(img) + ";base64," + base64.StdEncoding.EncodeToString(img),
		}))
	}
	return openai.UserMessage(parts)
}

// mimeFor labels image bytes by content. Unrecognised data gets the
// configured fallback.
func (c *OpenAIClient) mimeFor(img []byte) string {
	if mime := http.DetectContentType(img); strings.HasPrefix(mime, "image/") {
		return mime
	}
	return c.imageMIME
}

// mapOpenAIError converts SDK errors into the package error taxonomy.
func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if body == "" {
			body = http.StatusText(apiErr.StatusCode)
		}
		return &EndpointError{Provider: OpenAIName, StatusCode: apiErr.StatusCode, Body: body}
	}
	return classifyTransport(OpenAIName, err)
}

// Verify interface
var _ LLMClient = (*OpenAIClient)(nil)
