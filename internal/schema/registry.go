// Package schema loads the JSON Schema documents that shape model output.
//
// Schemas are identified by a path-like id ("receipt_items",
// "custom/receipt.json"). Resolution order:
//  1. Override directory (if configured)
//  2. Embedded defaults (schemas/*.json)
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Built-in schema ids.
const (
	ReceiptItems     = "receipt_items"
	CategorizedItems = "categorized_items"
	Advice           = "advice"
	BudgetAnalysis   = "budget_analysis"
	SpendingPlan     = "spending_plan"
	PeriodComparison = "period_comparison"
)

var (
	ErrSchemaNotFound  = errors.New("schema not found")
	ErrSchemaMalformed = errors.New("schema malformed")
)

// Loader resolves schema ids to compiled documents.
// It holds no per-call state and is safe for concurrent use.
type Loader struct {
	mu        sync.RWMutex
	overrides fs.FS
	logger    *slog.Logger
}

// NewLoader creates a loader. An empty overrideDir uses embedded schemas only.
func NewLoader(overrideDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger}
	l.SetOverrideDir(overrideDir)
	return l
}

// SetOverrideDir swaps the override directory. Loads already in flight
// finish against the previous one.
func (l *Loader) SetOverrideDir(dir string) {
	var overrides fs.FS
	if dir != "" {
		overrides = os.DirFS(dir)
	}
	l.mu.Lock()
	l.overrides = overrides
	l.mu.Unlock()
}

// Load resolves, parses, and compiles the schema identified by id.
func (l *Loader) Load(id string) (*Document, error) {
	file, err := resourceName(id)
	if err != nil {
		return nil, err
	}

	raw, source, err := l.read(file)
	if err != nil {
		return nil, err
	}

	doc, err := compile(id, file, raw)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("loaded schema", "id", id, "source", source)
	return doc, nil
}

func (l *Loader) read(file string) ([]byte, string, error) {
	l.mu.RLock()
	overrides := l.overrides
	l.mu.RUnlock()

	if overrides != nil {
		data, err := fs.ReadFile(overrides, file)
		if err == nil {
			return data, "override", nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("failed to read schema %s: %w", file, err)
		}
	}

	data, err := schemaFS.ReadFile("schemas/" + file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrSchemaNotFound, file)
		}
		return nil, "", fmt.Errorf("failed to read schema %s: %w", file, err)
	}
	return data, "embedded", nil
}

// resourceName maps an id to a slash-separated file name inside a schema root.
func resourceName(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty schema id", ErrSchemaNotFound)
	}
	file := path.Clean(strings.TrimPrefix(id, "/"))
	if !strings.HasSuffix(file, ".json") {
		file += ".json"
	}
	if !fs.ValidPath(file) {
		return "", fmt.Errorf("%w: invalid schema id %q", ErrSchemaNotFound, id)
	}
	return file, nil
}

func compile(id, file string, raw []byte) (*Document, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", ErrSchemaMalformed, file)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(file, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchemaMalformed, file, err)
	}
	compiled, err := compiler.Compile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchemaMalformed, file, err)
	}

	return &Document{
		ID:       id,
		raw:      append(json.RawMessage(nil), raw...),
		compiled: compiled,
	}, nil
}
