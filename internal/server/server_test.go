package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/tally/internal/pipeline"
	"github.com/jackzampolin/tally/internal/prompts"
	"github.com/jackzampolin/tally/internal/providers"
	"github.com/jackzampolin/tally/internal/schema"
	"github.com/jackzampolin/tally/internal/server/endpoints"
	"github.com/jackzampolin/tally/internal/svcctx"
)

func testImageB64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// receiptHandler answers extraction calls (which carry an image) with two
// items and categorization calls with valid labels.
func receiptHandler(req *providers.ChatRequest) (string, error) {
	if len(req.Messages) > 1 && len(req.Messages[1].Images) > 0 {
		return `{"items":[{"description":"Milk","amount":2.5},{"description":"Bus","amount":3}]}`, nil
	}
	return `{"items":[{"index":0,"category":"Groceries"},{"index":1,"category":"Transport"}]}`, nil
}

func testServices(client providers.LLMClient) *svcctx.Services {
	registry := providers.NewRegistry()
	registry.RegisterLLM("ollama", client)

	resolver := prompts.NewResolver("", nil)
	pipeline.RegisterPrompts(resolver)

	return &svcctx.Services{
		Registry: registry,
		Schemas:  schema.NewLoader("", nil),
		Prompts:  resolver,
	}
}

func newTestServer(t *testing.T, services *svcctx.Services) *httptest.Server {
	t.Helper()
	srv, err := New(Config{Services: services, MaxInFlight: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, endpoints.TaskResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var out endpoints.TaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestNew_RequiresServices(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without services")
	}
}

func TestHealthAndStatus(t *testing.T) {
	ts := newTestServer(t, testServices(&providers.MockClient{Handler: receiptHandler}))

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/status")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		defer resp.Body.Close()

		var status endpoints.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(status.Providers) != 1 || status.Providers[0] != "ollama" {
			t.Errorf("providers = %v, want [ollama]", status.Providers)
		}
		if status.Stages.ExtractModel != "qwen3-vl:8b" || status.Stages.CategorizeModel != "qwen3:14b" ||
			status.Stages.AdviceModel != "qwen3:14b" {
			t.Errorf("unexpected stage models: %+v", status.Stages)
		}
	})
}

func TestProcess(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock := &providers.MockClient{Handler: receiptHandler}
		ts := newTestServer(t, testServices(mock))

		resp, out := postJSON(t, ts.URL+"/process", endpoints.ProcessRequest{
			TaskID:   "r-1",
			ImageB64: testImageB64(t),
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200 (error %q)", resp.StatusCode, out.Error)
		}
		if out.Status != endpoints.StatusSuccess || out.TaskID != "r-1" {
			t.Errorf("unexpected envelope: %+v", out)
		}

		data, _ := json.Marshal(out.Data)
		var result pipeline.ProcessResult
		if err := json.Unmarshal(data, &result); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		if len(result.Items) != 2 || result.Items[1].Category != "Transport" {
			t.Errorf("unexpected items: %+v", result.Items)
		}
		if got := mock.Requests()[0].Model; got != "qwen3-vl:8b" {
			t.Errorf("extract model = %q, want configured default", got)
		}
	})

	t.Run("invalid image is a bad request", func(t *testing.T) {
		mock := &providers.MockClient{Handler: receiptHandler}
		ts := newTestServer(t, testServices(mock))

		resp, out := postJSON(t, ts.URL+"/process", endpoints.ProcessRequest{
			ImageB64: base64.StdEncoding.EncodeToString([]byte("not an image")),
		})
		if resp.StatusCode != http.StatusBadRequest || out.Status != endpoints.StatusFailed {
			t.Errorf("got %d %+v, want 400 FAILED", resp.StatusCode, out)
		}
		if mock.RequestCount() != 0 {
			t.Errorf("expected no model calls, got %d", mock.RequestCount())
		}
	})

	t.Run("bad category set is a bad request", func(t *testing.T) {
		ts := newTestServer(t, testServices(&providers.MockClient{Handler: receiptHandler}))

		resp, out := postJSON(t, ts.URL+"/process", endpoints.ProcessRequest{
			ImageB64:   testImageB64(t),
			Categories: []string{"Food", "Food"},
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400 (%+v)", resp.StatusCode, out)
		}
	})

	t.Run("exhausted extraction is unprocessable", func(t *testing.T) {
		ts := newTestServer(t, testServices(providers.NewMockClient("no json here")))

		resp, out := postJSON(t, ts.URL+"/process", endpoints.ProcessRequest{ImageB64: testImageB64(t)})
		if resp.StatusCode != http.StatusUnprocessableEntity || out.Status != endpoints.StatusFailed {
			t.Errorf("got %d %+v, want 422 FAILED", resp.StatusCode, out)
		}
		if !strings.Contains(out.Error, "extraction failed") {
			t.Errorf("error = %q", out.Error)
		}
	})
}

func TestExtractAndCategorize(t *testing.T) {
	ts := newTestServer(t, testServices(&providers.MockClient{Handler: receiptHandler}))

	resp, out := postJSON(t, ts.URL+"/extract", endpoints.ExtractRequest{ImageB64: testImageB64(t)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("extract status = %d (%s)", resp.StatusCode, out.Error)
	}
	data, _ := json.Marshal(out.Data)
	var extracted pipeline.ExtractResult
	if err := json.Unmarshal(data, &extracted); err != nil {
		t.Fatalf("decode extract: %v", err)
	}
	if len(extracted.Items) != 2 {
		t.Fatalf("expected 2 items, got %+v", extracted.Items)
	}

	resp, out = postJSON(t, ts.URL+"/categorize", endpoints.CategorizeRequest{
		Items:      extracted.Items,
		Categories: []string{"Groceries", "Transport"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("categorize status = %d (%s)", resp.StatusCode, out.Error)
	}
	data, _ = json.Marshal(out.Data)
	var categorized pipeline.CategorizeResult
	if err := json.Unmarshal(data, &categorized); err != nil {
		t.Fatalf("decode categorize: %v", err)
	}
	if categorized.Degraded != 0 || categorized.Items[0].Category != "Groceries" {
		t.Errorf("unexpected result: %+v", categorized)
	}
}

func TestPrompts(t *testing.T) {
	ts := newTestServer(t, testServices(&providers.MockClient{Handler: receiptHandler}))

	resp, err := http.Get(ts.URL + "/prompts")
	if err != nil {
		t.Fatalf("GET /prompts: %v", err)
	}
	defer resp.Body.Close()
	var list endpoints.ListPromptsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// ocr, categorize, advice and three budget refs, three templates each
	if len(list.Prompts) != 18 {
		t.Errorf("expected 18 prompts, got %d", len(list.Prompts))
	}

	for _, key := range []string{"ocr.user", "advice.repair", "budget.analysis.user"} {
		resp, err = http.Get(ts.URL + "/prompts/" + key)
		if err != nil {
			t.Fatalf("GET prompt: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", key, resp.StatusCode)
		}
	}

	resp, err = http.Get(ts.URL + "/prompts/nope.user")
	if err != nil {
		t.Fatalf("GET prompt: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// adviceHandler answers each advisor call by its response format.
func adviceHandler(req *providers.ChatRequest) (string, error) {
	switch req.ResponseFormat.Name {
	case "advice":
		return `{"advice":[{"title":"a","detail":"x"},{"title":"b","detail":"y"},{"title":"c","detail":"z"}]}`, nil
	case "budget_analysis":
		return `{"summary":"ok","health_score":80,"strengths":[],"concerns":[],` +
			`"recommendations":[{"area":"food","action":"Cook more","priority":"low"}]}`, nil
	default:
		return `{}`, nil
	}
}

const financialsJSON = `{"income":{"salary":4000},"expenses":{"housing":1200,"food":500,"games":300},"savings":{},"debts":{"card":800}}`

func TestAdviceAndBudget(t *testing.T) {
	var financials map[string]any
	if err := json.Unmarshal([]byte(financialsJSON), &financials); err != nil {
		t.Fatal(err)
	}
	goal := map[string]any{"name": "Holiday", "target": 2000}
	stats := map[string]any{"spent": 2000}

	t.Run("advice", func(t *testing.T) {
		mock := &providers.MockClient{Handler: adviceHandler}
		ts := newTestServer(t, testServices(mock))

		resp, out := postJSON(t, ts.URL+"/advice", map[string]any{
			"task_id":       "a-1",
			"goal":          goal,
			"monthly_stats": stats,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200 (error %q)", resp.StatusCode, out.Error)
		}
		data, _ := out.Data.(map[string]any)
		advice, _ := data["advice"].([]any)
		if out.TaskID != "a-1" || len(advice) != 3 {
			t.Errorf("unexpected response: %+v", out)
		}
		if got := mock.Requests()[0].Model; got != "qwen3:14b" {
			t.Errorf("Model = %q, want configured advice model", got)
		}
	})

	t.Run("advice without goal", func(t *testing.T) {
		ts := newTestServer(t, testServices(&providers.MockClient{Handler: adviceHandler}))
		resp, out := postJSON(t, ts.URL+"/advice", map[string]any{"monthly_stats": stats})
		if resp.StatusCode != http.StatusBadRequest || out.Status != endpoints.StatusFailed {
			t.Errorf("status = %d, envelope = %+v", resp.StatusCode, out)
		}
	})

	t.Run("advice never validates", func(t *testing.T) {
		mock := providers.NewMockClient(`{"advice":[]}`)
		ts := newTestServer(t, testServices(mock))
		resp, out := postJSON(t, ts.URL+"/advice", map[string]any{"goal": goal, "monthly_stats": stats})
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", resp.StatusCode)
		}
		if !strings.Contains(out.Error, "advice generation failed") {
			t.Errorf("Error = %q", out.Error)
		}
	})

	t.Run("budget analysis", func(t *testing.T) {
		ts := newTestServer(t, testServices(&providers.MockClient{Handler: adviceHandler}))
		resp, out := postJSON(t, ts.URL+"/budget/analyze", map[string]any{
			"financials":    financials,
			"period_months": 6,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200 (error %q)", resp.StatusCode, out.Error)
		}
		data, _ := out.Data.(map[string]any)
		metrics, _ := data["financial_metrics"].(map[string]any)
		if metrics["savings_rate"] != float64(50) {
			t.Errorf("savings_rate = %v, want 50", metrics["savings_rate"])
		}
	})

	t.Run("budget analysis with incomplete finances", func(t *testing.T) {
		ts := newTestServer(t, testServices(&providers.MockClient{Handler: adviceHandler}))
		resp, _ := postJSON(t, ts.URL+"/budget/analyze", map[string]any{
			"financials": map[string]any{"income": map[string]any{"salary": 100}},
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("metrics need no model", func(t *testing.T) {
		mock := &providers.MockClient{Handler: adviceHandler}
		ts := newTestServer(t, testServices(mock))

		body := `{"financials":` + financialsJSON + `}`
		resp, err := http.Post(ts.URL+"/budget/metrics", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		defer resp.Body.Close()
		var metrics map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if metrics["total_expenses"] != float64(2000) || metrics["debt_to_income_ratio"] != float64(20) {
			t.Errorf("unexpected metrics: %v", metrics)
		}
		if mock.RequestCount() != 0 {
			t.Errorf("expected no model calls, got %d", mock.RequestCount())
		}
	})
}

func TestRequireInit(t *testing.T) {
	services := testServices(&providers.MockClient{Handler: receiptHandler})
	services.Schemas = nil
	ts := newTestServer(t, services)

	resp, err := http.Post(ts.URL+"/process", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	// Health does not need initialization.
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_Lifecycle(t *testing.T) {
	srv, err := New(Config{
		Port:     "0",
		Services: testServices(&providers.MockClient{Handler: receiptHandler}),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !srv.IsRunning() || strings.HasSuffix(srv.Addr(), ":0") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		cancel()
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()

	if err := srv.Start(ctx); err == nil {
		t.Error("expected error starting a running server")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if srv.IsRunning() {
		t.Error("server still marked running")
	}
}
