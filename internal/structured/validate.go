package structured

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind classifies why model output was rejected.
type Kind string

const (
	KindParse           Kind = "parse_error"
	KindSchemaViolation Kind = "schema_violation"
	KindMissingField    Kind = "missing_field"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid structured output")

	ErrParse           = errors.New("parse error")
	ErrSchemaViolation = errors.New("schema violation")
	ErrMissingField    = errors.New("missing required field")
)

// Schema is the subset of a loaded schema the validator needs.
type Schema interface {
	Validate(v any) error
}

// ValidationError describes a rejected response.
type ValidationError struct {
	Kind    Kind
	Path    string // JSON pointer into the response; empty for parse errors
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Is matches ErrValidation and the sentinel for the error's kind.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrParse:
		return e.Kind == KindParse
	case ErrSchemaViolation:
		return e.Kind == KindSchemaViolation
	case ErrMissingField:
		return e.Kind == KindMissingField
	}
	return false
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate parses content and checks it against schema. It returns the
// decoded value (numbers as json.Number) on success.
func Validate(schema Schema, content string) (any, error) {
	raw, err := Parse(content)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Kind: KindParse, Message: err.Error(), Err: err}
	}

	if err := schema.Validate(doc); err != nil {
		return nil, classify(err)
	}
	return doc, nil
}

// Decode validates content against schema, then unmarshals it into dst.
func Decode(schema Schema, content string, dst any) error {
	doc, err := Validate(schema, content)
	if err != nil {
		return err
	}
	// Re-encode the validated value so dst sees exactly what was checked.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to normalize validated output: %w", err)
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		return &ValidationError{Kind: KindSchemaViolation, Message: err.Error(), Err: err}
	}
	return nil
}

// quotedName matches the 'name' tokens in a required-keyword message.
var quotedName = regexp.MustCompile(`'([^']*)'`)

// classify maps a schema validation failure to a ValidationError pointing
// at the first leaf cause.
func classify(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Kind: KindSchemaViolation, Message: err.Error(), Err: err}
	}

	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	out := &ValidationError{
		Kind:    KindSchemaViolation,
		Path:    pointer(leaf.InstanceLocation),
		Message: leaf.Message,
		Err:     err,
	}
	if strings.HasSuffix(leaf.KeywordLocation, "/required") {
		out.Kind = KindMissingField
		if m := quotedName.FindStringSubmatch(leaf.Message); m != nil {
			out.Path = strings.TrimSuffix(leaf.InstanceLocation, "/") + "/" + m[1]
		}
	}
	return out
}

func pointer(loc string) string {
	if loc == "" {
		return "/"
	}
	return loc
}

// Feedback renders err as a one-line description suitable for a corrective prompt.
func Feedback(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		switch ve.Kind {
		case KindParse:
			return "the response was not valid JSON (" + ve.Message + ")"
		case KindMissingField:
			return fmt.Sprintf("required field %s is missing", ve.Path)
		default:
			return fmt.Sprintf("field %s is invalid: %s", ve.Path, ve.Message)
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Truncate shortens model output echoed back in a corrective prompt.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}
