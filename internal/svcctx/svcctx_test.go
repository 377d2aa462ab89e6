package svcctx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/tally/internal/config"
	"github.com/jackzampolin/tally/internal/home"
	"github.com/jackzampolin/tally/internal/pipeline"
	"github.com/jackzampolin/tally/internal/prompts"
	"github.com/jackzampolin/tally/internal/providers"
	"github.com/jackzampolin/tally/internal/schema"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newServices() *Services {
	resolver := prompts.NewResolver("", nil)
	pipeline.RegisterPrompts(resolver)
	return &Services{
		Registry: providers.NewRegistry(),
		Schemas:  schema.NewLoader("", nil),
		Prompts:  resolver,
	}
}

func TestServices_ApplyConfig(t *testing.T) {
	schemaDir := t.TempDir()
	promptDir := t.TempDir()
	writeFile(t, filepath.Join(schemaDir, "receipt_items.json"),
		`{"title":"store receipt","type":"object","required":["items"],"properties":{"items":{"type":"array"}}}`)
	writeFile(t, filepath.Join(promptDir, "ocr", "system.tmpl"), "Read the store receipt.")

	svc := newServices()

	t.Run("starts on embedded resources", func(t *testing.T) {
		doc, err := svc.Schemas.Load(schema.ReceiptItems)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if strings.Contains(doc.Text(), "store receipt") {
			t.Error("expected embedded schema before reload")
		}
		p, err := svc.Prompts.Resolve("ocr.system")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if p.IsOverride {
			t.Error("expected embedded prompt before reload")
		}
	})

	t.Run("reload picks up new directories", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Resources.SchemaDir = schemaDir
		cfg.Resources.PromptDir = promptDir
		svc.ApplyConfig(cfg)

		doc, err := svc.Schemas.Load(schema.ReceiptItems)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !strings.Contains(doc.Text(), "store receipt") {
			t.Errorf("expected override schema, got %s", doc.Text())
		}
		p, err := svc.Prompts.Resolve("ocr.system")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !p.IsOverride || p.Text != "Read the store receipt." {
			t.Errorf("expected override prompt, got %+v", p)
		}
		if !svc.Registry.HasLLM("ollama") {
			t.Errorf("expected providers from config, got %v", svc.Registry.ListLLM())
		}
	})

	t.Run("clearing directories falls back to embedded", func(t *testing.T) {
		svc.ApplyConfig(config.DefaultConfig())

		doc, err := svc.Schemas.Load(schema.ReceiptItems)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if strings.Contains(doc.Text(), "store receipt") {
			t.Error("override schema still in use")
		}
		p, err := svc.Prompts.Resolve("ocr.system")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if p.IsOverride {
			t.Error("override prompt still in use")
		}
	})
}

func TestServices_ApplyConfigHomeFallback(t *testing.T) {
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	writeFile(t, filepath.Join(h.PromptsDir(), "categorize", "user.tmpl"), "{{.Items}}")

	svc := newServices()
	svc.Home = h
	svc.ApplyConfig(config.DefaultConfig())

	p, err := svc.Prompts.Resolve("categorize.user")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !p.IsOverride {
		t.Error("expected the home prompts directory to be used")
	}
}

func TestServicesFrom(t *testing.T) {
	if ServicesFrom(context.Background()) != nil {
		t.Error("expected nil without services")
	}
	svc := newServices()
	ctx := WithServices(context.Background(), svc)
	if ServicesFrom(ctx) != svc {
		t.Error("services not carried by context")
	}
	if RegistryFrom(ctx) != svc.Registry {
		t.Error("registry not carried by context")
	}
}

func TestServices_Advisor(t *testing.T) {
	svc := newServices()
	if _, err := svc.Advisor(); err == nil {
		t.Error("expected error without an advice provider")
	}

	svc.Registry.RegisterLLM("ollama", providers.NewMockClient())
	if _, err := svc.Advisor(); err != nil {
		t.Errorf("Advisor() error = %v", err)
	}
	if got := svc.AdviceModel(""); got != config.DefaultConfig().Defaults.AdviceModel {
		t.Errorf("AdviceModel(\"\") = %q", got)
	}
	if got := svc.AdviceModel("qwen3:0.6b"); got != "qwen3:0.6b" {
		t.Errorf("AdviceModel() = %q, want override", got)
	}
}
