package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	OllamaName    = "ollama"
	OllamaBaseURL = "http://localhost:11434"
)

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration // HTTP client backstop; callers set per-request deadlines
	KeepAlive    string        // How long the host keeps the model loaded (e.g. "5m")
	HTTPClient   *http.Client  // Optional (tests)
}

// OllamaClient implements LLMClient against Ollama's native /api/chat endpoint.
type OllamaClient struct {
	baseURL      string
	defaultModel string
	keepAlive    string
	timeout      time.Duration
	client       *http.Client
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OllamaBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OllamaClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		keepAlive:    cfg.KeepAlive,
		timeout:      cfg.Timeout,
		client:       httpClient,
	}
}

// Name returns the client identifier.
func (c *OllamaClient) Name() string {
	return OllamaName
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	Format    json.RawMessage `json:"format,omitempty"`
	Options   ollamaOptions   `json:"options"`
	KeepAlive string          `json:"keep_alive,omitempty"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// Chat sends one non-streaming chat request.
func (c *OllamaClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
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
		Provider:  OllamaName,
		ModelUsed: model,
	}
	if model == "" {
		return result.fail("invalid_request", start, fmt.Errorf("ollama: no model specified"))
	}

	body := ollamaChatRequest{
		Model:     model,
		Messages:  make([]ollamaMessage, 0, len(req.Messages)),
		Stream:    false,
		Options:   ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
		KeepAlive: c.keepAlive,
	}
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			om.Images = append(om.Images, base64.StdEncoding.EncodeToString(img))
		}
		body.Messages = append(body.Messages, om)
	}
	if req.ResponseFormat != nil && len(req.ResponseFormat.Schema) > 0 {
		body.Format = req.ResponseFormat.Schema
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return result.fail("marshal_error", start, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return result.fail("invalid_request", start, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return result.fail("transport_error", start, classifyTransport(OllamaName, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return result.fail("transport_error", start, classifyTransport(OllamaName, err))
	}
	if resp.StatusCode != http.StatusOK {
		return result.fail("http_error", start, newEndpointError(OllamaName, resp.StatusCode, respBody))
	}

	var oResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &oResp); err != nil {
		return result.fail("http_error", start, newEndpointError(OllamaName, resp.StatusCode, respBody))
	}
	if oResp.Error != "" {
		return result.fail("api_error", start, newEndpointError(OllamaName, resp.StatusCode, []byte(oResp.Error)))
	}

	result.Success = true
	result.Content = oResp.Message.Content
	if oResp.Model != "" {
		result.ModelUsed = oResp.Model
	}
	result.PromptTokens = oResp.PromptEvalCount
	result.CompletionTokens = oResp.EvalCount
	result.TotalTokens = oResp.PromptEvalCount + oResp.EvalCount
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// Verify interface
var _ LLMClient = (*OllamaClient)(nil)
