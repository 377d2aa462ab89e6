package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockResponse is one scripted reply. A non-nil Err is returned instead of Content.
type MockResponse struct {
	Content string
	Err     error
}

// MockClient is an LLMClient for testing. Scripted responses are consumed
// in order; once exhausted the last one repeats.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string
	Responses    []MockResponse

	// Handler, when set, takes precedence over Responses and ResponseText.
	Handler func(req *ChatRequest) (string, error)

	// State
	mu           sync.Mutex
	requests     []ChatRequest
	requestCount atomic.Int64
}

// NewMockClient creates a mock client that replies with each content in turn.
func NewMockClient(contents ...string) *MockClient {
	c := &MockClient{ResponseText: "mock response"}
	for _, content := range contents {
		c.Responses = append(c.Responses, MockResponse{Content: content})
	}
	return c
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat returns the next scripted response.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, cloneRequest(req))
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockClientName,
		ModelUsed: req.Model,
	}

	if c.ShouldFail {
		return result.fail("mock_failure", start, fmt.Errorf("%s: %w: configured to fail", MockClientName, ErrEndpointUnreachable))
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		return result.fail("mock_failure", start, fmt.Errorf("%s: %w: failed after %d requests", MockClientName, ErrEndpointUnreachable, c.FailAfter))
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return result.fail("context_done", start, classifyTransport(MockClientName, ctx.Err()))
		}
	}

	content, err := c.next(req, int(count))
	if err != nil {
		return result.fail("mock_failure", start, err)
	}

	result.Success = true
	result.Content = content
	result.PromptTokens = promptLen(req) / 4 // Rough estimate
	result.CompletionTokens = len(content) / 4
	result.TotalTokens = result.PromptTokens + result.CompletionTokens
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func (c *MockClient) next(req *ChatRequest, count int) (string, error) {
	if c.Handler != nil {
		return c.Handler(req)
	}
	if len(c.Responses) == 0 {
		return c.ResponseText, nil
	}
	idx := count - 1
	if idx >= len(c.Responses) {
		idx = len(c.Responses) - 1
	}
	r := c.Responses[idx]
	return r.Content, r.Err
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns copies of all requests received so far.
func (c *MockClient) Requests() []ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Reset clears recorded requests and the request counter.
func (c *MockClient) Reset() {
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
	c.requestCount.Store(0)
}

func cloneRequest(req *ChatRequest) ChatRequest {
	out := *req
	out.Messages = append([]Message(nil), req.Messages...)
	return out
}

func promptLen(req *ChatRequest) int {
	n := 0
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	return n
}

// Verify interface
var _ LLMClient = (*MockClient)(nil)
