package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestOllamaClient_Chat(t *testing.T) {
	t.Run("successful chat", func(t *testing.T) {
		var received ollamaChatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/chat" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if r.Method != http.MethodPost {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"model":             "qwen3-vl:8b",
				"message":           map[string]any{"role": "assistant", "content": `{"items":[]}`},
				"done":              true,
				"prompt_eval_count": 12,
				"eval_count":        5,
			})
		}))
		defer server.Close()

		client := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{
			Model:       "qwen3-vl:8b",
			Temperature: 0,
			Messages: []Message{
				{Role: RoleSystem, Content: "be precise"},
				{Role: RoleUser, Content: "read this", Images: [][]byte{[]byte("fake-image")}},
			},
			ResponseFormat: &ResponseFormat{Name: "receipt", Schema: json.RawMessage(`{"type":"object"}`)},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if !result.Success {
			t.Error("expected Success = true")
		}
		if result.Content != `{"items":[]}` {
			t.Errorf("Content = %q", result.Content)
		}
		if result.TotalTokens != 17 {
			t.Errorf("TotalTokens = %d, want 17", result.TotalTokens)
		}

		if received.Stream {
			t.Error("expected stream=false")
		}
		if string(received.Format) != `{"type":"object"}` {
			t.Errorf("format = %s", received.Format)
		}
		if len(received.Messages) != 2 || len(received.Messages[1].Images) != 1 {
			t.Fatalf("unexpected messages: %+v", received.Messages)
		}
		if received.Messages[1].Images[0] != base64.StdEncoding.EncodeToString([]byte("fake-image")) {
			t.Error("image should be base64 encoded")
		}
	})

	t.Run("non-success status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
		}))
		defer server.Close()

		client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, DefaultModel: "missing"})
		result, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		if !errors.Is(err, ErrEndpointError) {
			t.Fatalf("expected ErrEndpointError, got %v", err)
		}
		var endpointErr *EndpointError
		if !errors.As(err, &endpointErr) || endpointErr.StatusCode != http.StatusNotFound {
			t.Errorf("expected status 404, got %v", err)
		}
		if result == nil || result.Success {
			t.Error("expected failed result alongside error")
		}
		if !IsTransport(err) {
			t.Error("endpoint errors should be retryable transport errors")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		client := NewOllamaClient(OllamaConfig{BaseURL: url, DefaultModel: "m"})
		_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		if !errors.Is(err, ErrEndpointUnreachable) {
			t.Errorf("expected ErrEndpointUnreachable, got %v", err)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, DefaultModel: "m"})
		_, err := client.Chat(ctx, &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		if !errors.Is(err, ErrEndpointTimeout) {
			t.Errorf("expected ErrEndpointTimeout, got %v", err)
		}
	})

	t.Run("no model", func(t *testing.T) {
		client := NewOllamaClient(OllamaConfig{BaseURL: "http://127.0.0.1:1"})
		_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		if err == nil || IsTransport(err) {
			t.Errorf("expected non-transport error, got %v", err)
		}
	})
}

func TestOpenAIClient_Chat(t *testing.T) {
	t.Run("successful chat", func(t *testing.T) {
		var received map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			json.NewDecoder(r.Body).Decode(&received)

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   "qwen3:14b",
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": `{"items":[]}`},
					"finish_reason": "stop",
				}},
				"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
			})
		}))
		defer server.Close()

		client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{
			Model: "qwen3:14b",
			Messages: []Message{
				{Role: RoleSystem, Content: "sys"},
				{Role: RoleUser, Content: "look", Images: [][]byte{[]byte("img")}},
			},
			ResponseFormat: &ResponseFormat{Name: "receipt", Schema: json.RawMessage(`{"type":"object"}`)},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != `{"items":[]}` {
			t.Errorf("Content = %q", result.Content)
		}
		if result.TotalTokens != 18 {
			t.Errorf("TotalTokens = %d, want 18", result.TotalTokens)
		}

		rf, ok := received["response_format"].(map[string]any)
		if !ok || rf["type"] != "json_schema" {
			t.Errorf("unexpected response_format: %v", received["response_format"])
		}
		messages, _ := received["messages"].([]any)
		if len(messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(messages))
		}
		user, _ := messages[1].(map[string]any)
		parts, _ := user["content"].([]any)
		if len(parts) != 2 {
			t.Fatalf("expected text and image parts, got %v", user["content"])
		}
		image, _ := parts[1].(map[string]any)["image_url"].(map[string]any)
		if url, _ := image["url"].(string); !strings.HasPrefix(url, "data:image/jpeg;base64,") {
			t.Errorf("unexpected image url: %v", image["url"])
		}
	})

	t.Run("image data urls follow image content", func(t *testing.T) {
		pngHeader := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
		gifHeader := []byte("GIF89a\x01\x00\x01\x00")
		var received map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&received)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-2",
				"object":  "chat.completion",
				"created": 1,
				"model":   "m",
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": "{}"},
					"finish_reason": "stop",
				}},
			})
		}))
		defer server.Close()

		client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL, DefaultModel: "m"})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{
				Role:    RoleUser,
				Content: "look",
				Images:  [][]byte{pngHeader, gifHeader, []byte("not an image")},
			}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}

		messages, _ := received["messages"].([]any)
		if len(messages) != 1 {
			t.Fatalf("expected 1 message, got %d", len(messages))
		}
		parts, _ := messages[0].(map[string]any)["content"].([]any)
		if len(parts) != 4 {
			t.Fatalf("expected text and three image parts, got %v", messages[0])
		}
		wantPrefixes := []string{"data:image/png;base64,", "data:image/gif;base64,", "data:image/jpeg;base64,"}
		for i, want := range wantPrefixes {
			image, _ := parts[i+1].(map[string]any)["image_url"].(map[string]any)
			url, _ := image["url"].(string)
			if !strings.HasPrefix(url, want) {
				t.Errorf("image %d url = %.40q, want prefix %q", i, url, want)
			}
		}
		png, _ := parts[1].(map[string]any)["image_url"].(map[string]any)
		if url, _ := png["url"].(string); url != "data:image/png;base64,"+base64.StdEncoding.EncodeToString(pngHeader) {
			t.Errorf("png payload not preserved: %.60q", url)
		}
	})

	t.Run("server error is not retried", func(t *testing.T) {
		var calls int
		var mu sync.Mutex
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls++
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		}))
		defer server.Close()

		client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL, DefaultModel: "m"})
		_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		var endpointErr *EndpointError
		if !errors.As(err, &endpointErr) || endpointErr.StatusCode != http.StatusInternalServerError {
			t.Fatalf("expected EndpointError 500, got %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if calls != 1 {
			t.Errorf("expected exactly 1 request, got %d", calls)
		}
	})
}

func TestMockClient(t *testing.T) {
	t.Run("scripted responses", func(t *testing.T) {
		c := NewMockClient("first", "second")
		ctx := context.Background()
		req := &ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}}

		for _, want := range []string{"first", "second", "second"} {
			result, err := c.Chat(ctx, req)
			if err != nil {
				t.Fatalf("Chat() error = %v", err)
			}
			if result.Content != want {
				t.Errorf("Content = %q, want %q", result.Content, want)
			}
		}
		if c.RequestCount() != 3 {
			t.Errorf("RequestCount = %d, want 3", c.RequestCount())
		}
		if len(c.Requests()) != 3 {
			t.Errorf("expected 3 recorded requests")
		}
	})

	t.Run("scripted error", func(t *testing.T) {
		c := &MockClient{Responses: []MockResponse{{Err: ErrEndpointTimeout}}}
		_, err := c.Chat(context.Background(), &ChatRequest{})
		if !errors.Is(err, ErrEndpointTimeout) {
			t.Errorf("expected ErrEndpointTimeout, got %v", err)
		}
	})

	t.Run("fail after", func(t *testing.T) {
		c := NewMockClient()
		c.FailAfter = 1
		if _, err := c.Chat(context.Background(), &ChatRequest{}); err != nil {
			t.Fatalf("first call should succeed: %v", err)
		}
		if _, err := c.Chat(context.Background(), &ChatRequest{}); !errors.Is(err, ErrEndpointUnreachable) {
			t.Errorf("expected ErrEndpointUnreachable, got %v", err)
		}
	})

	t.Run("latency honors context", func(t *testing.T) {
		c := NewMockClient()
		c.Latency = time.Second
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := c.Chat(ctx, &ChatRequest{}); !errors.Is(err, ErrEndpointTimeout) {
			t.Errorf("expected ErrEndpointTimeout, got %v", err)
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		c := NewMockClient()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Chat(context.Background(), &ChatRequest{})
			}()
		}
		wg.Wait()
		if c.RequestCount() != 20 {
			t.Errorf("RequestCount = %d, want 20", c.RequestCount())
		}
	})
}

func TestClassifyTransport(t *testing.T) {
	if err := classifyTransport("x", context.Canceled); !errors.Is(err, context.Canceled) || IsTransport(err) {
		t.Errorf("cancellation should pass through, got %v", err)
	}
	if err := classifyTransport("x", context.DeadlineExceeded); !errors.Is(err, ErrEndpointTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
	if err := classifyTransport("x", errors.New("connection refused")); !errors.Is(err, ErrEndpointUnreachable) {
		t.Errorf("expected unreachable, got %v", err)
	}
}
