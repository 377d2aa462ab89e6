package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

type fakeEndpoint struct {
	method, path string
	init         bool
}

func (e fakeEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(e.path))
	}
}

func (e fakeEndpoint) RequiresInit() bool { return e.init }

func (e fakeEndpoint) Command(serverURL func() string) *cobra.Command {
	use := e.path[strings.LastIndex(e.path, "/")+1:]
	return &cobra.Command{Use: use}
}

func TestNamespace(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", ""},
		{"/prompts/{key}", ""},
		{"/swagger.json", ""},
		{"/budget/analyze", "budget"},
		{"/budget/plan/", "budget"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := namespace(tt.path); got != tt.want {
				t.Errorf("namespace(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	newRegistry := func() *Registry {
		r := NewRegistry()
		r.Register(fakeEndpoint{method: "GET", path: "/health"})
		r.Register(fakeEndpoint{method: "POST", path: "/advice", init: true})
		r.Register(fakeEndpoint{method: "POST", path: "/budget/analyze", init: true})
		r.Register(fakeEndpoint{method: "POST", path: "/budget/plan", init: true})
		return r
	}

	t.Run("commands nest by namespace", func(t *testing.T) {
		cmd := newRegistry().BuildCommands(func() string { return "" })
		var top []string
		for _, c := range cmd.Commands() {
			top = append(top, c.Name())
		}
		if strings.Join(top, ",") != "advice,budget,health" {
			t.Fatalf("top-level commands = %v", top)
		}
		budget, _, err := cmd.Find([]string{"budget", "plan"})
		if err != nil || budget.Name() != "plan" {
			t.Errorf("expected budget plan command, got %v, %v", budget, err)
		}
	})

	t.Run("init middleware wraps only marked routes", func(t *testing.T) {
		var wrapped []string
		mux := http.NewServeMux()
		newRegistry().RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				wrapped = append(wrapped, r.URL.Path)
				next(w, r)
			}
		})

		for _, req := range []*http.Request{
			httptest.NewRequest("GET", "/health", nil),
			httptest.NewRequest("POST", "/advice", nil),
		} {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Body.String() != req.URL.Path {
				t.Errorf("%s served %q", req.URL.Path, rec.Body.String())
			}
		}
		if len(wrapped) != 1 || wrapped[0] != "/advice" {
			t.Errorf("wrapped = %v, want [/advice]", wrapped)
		}
	})

	t.Run("duplicate route panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic on duplicate route")
			}
		}()
		r := newRegistry()
		r.Register(fakeEndpoint{method: "GET", path: "/health"})
	})
}

func TestClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
			}
			io.Copy(w, r.Body)
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/failed":
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"task_id":"t1","status":"failed","error":"extraction failed"}`))
		default:
			http.Error(w, "no such route", http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL + "/")
	ctx := context.Background()

	t.Run("post round trip", func(t *testing.T) {
		var out map[string]string
		if err := client.Post(ctx, "/echo", map[string]string{"goal": "save"}, &out); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
		if out["goal"] != "save" {
			t.Errorf("out = %v", out)
		}
	})

	t.Run("empty reply", func(t *testing.T) {
		var out map[string]string
		if err := client.Get(ctx, "/empty", &out); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	})

	t.Run("json error field", func(t *testing.T) {
		err := client.Post(ctx, "/failed", nil, nil)
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("expected StatusError, got %v", err)
		}
		if statusErr.Code != http.StatusUnprocessableEntity || statusErr.Message != "extraction failed" {
			t.Errorf("unexpected error: %+v", statusErr)
		}
		var task map[string]string
		if json.Unmarshal(statusErr.Body, &task) != nil || task["task_id"] != "t1" {
			t.Errorf("body not preserved: %s", statusErr.Body)
		}
	})

	t.Run("plain text error", func(t *testing.T) {
		err := client.Get(ctx, "/missing", nil)
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.Message != "no such route" {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
