package prompts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
)

var (
	ErrTemplateNotFound   = errors.New("template not found")
	ErrPlaceholderMissing = errors.New("placeholder missing")
	ErrTemplateMalformed  = errors.New("template malformed")
)

// variablePattern matches Go template variable references like {{.VarName}} or {{ .VarName }}
var variablePattern = regexp.MustCompile(`\{\{\s*\.([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// ExtractVariables extracts template variable names from a Go template string.
// For example, "Hello {{.Name}}, you have {{.Count}} items" returns ["Count", "Name"].
func ExtractVariables(text string) []string {
	matches := variablePattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	var vars []string

	for _, match := range matches {
		if len(match) > 1 {
			varName := match[1]
			if !seen[varName] {
				seen[varName] = true
				vars = append(vars, varName)
			}
		}
	}

	sort.Strings(vars)
	return vars
}

// HashText returns a SHA256 hash of the text for change detection.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Render substitutes vars into text. Values are inserted as data; a value
// containing template syntax is emitted verbatim, never executed.
func Render(key, text string, vars map[string]any) (string, error) {
	for _, name := range ExtractVariables(text) {
		root := name
		if i := strings.IndexByte(name, '.'); i >= 0 {
			root = name[:i]
		}
		if _, ok := vars[root]; !ok {
			return "", fmt.Errorf("%w: %s in %s", ErrPlaceholderMissing, name, key)
		}
	}

	tmpl, err := template.New(key).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplateMalformed, key, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		// Placeholders hidden inside actions (if/range) surface here.
		if strings.Contains(err.Error(), "map has no entry for key") {
			return "", fmt.Errorf("%w: %s: %v", ErrPlaceholderMissing, key, err)
		}
		return "", fmt.Errorf("failed to render %s: %w", key, err)
	}
	return buf.String(), nil
}
