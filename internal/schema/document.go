package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CategoryEnumPath locates the per-item category property in the
// categorization schema.
var CategoryEnumPath = []string{"properties", "items", "items", "properties", "category"}

// Document is a loaded, compiled JSON Schema. It is read-only.
type Document struct {
	ID       string
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// Raw returns a copy of the schema source.
func (d *Document) Raw() json.RawMessage {
	return append(json.RawMessage(nil), d.raw...)
}

// Text returns the schema as indented JSON for embedding in prompts.
func (d *Document) Text() string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, d.raw, "", "  "); err != nil {
		return string(d.raw)
	}
	return buf.String()
}

// Validate checks a decoded JSON value (the result of json.Unmarshal into
// an any) against the schema. Failures are *jsonschema.ValidationError.
func (d *Document) Validate(v any) error {
	return d.compiled.Validate(v)
}

// WithEnum returns a copy of the schema source with an enum constraint set
// on the property found by walking keys from the root. The document itself
// is not modified.
func (d *Document) WithEnum(keys []string, values []string) (json.RawMessage, error) {
	var root any
	if err := json.Unmarshal(d.raw, &root); err != nil {
		return nil, fmt.Errorf("failed to decode schema %s: %w", d.ID, err)
	}

	node := root
	for _, key := range keys {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema %s has no object at %s", d.ID, strings.Join(keys, "."))
		}
		next, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("schema %s has no %q at %s", d.ID, key, strings.Join(keys, "."))
		}
		node = next
	}

	target, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema %s: %s is not an object", d.ID, strings.Join(keys, "."))
	}
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	target["enum"] = enum

	out, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema %s: %w", d.ID, err)
	}
	return out, nil
}
