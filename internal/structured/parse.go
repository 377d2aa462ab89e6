// Package structured parses and validates model output against a JSON Schema.
//
// Model output is untrusted: every response is fully parsed and then
// validated before any field is read. The package is schema-agnostic and
// serves every stage that asks a model for JSON.
package structured

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Parse extracts a JSON value from model output, with lightweight recovery
// for markdown code fences and surrounding text. The returned JSON is
// compacted; numbers keep their original text.
func Parse(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &ValidationError{Kind: KindParse, Message: "empty response"}
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	seen := make(map[string]struct{}, len(candidates))
	var firstErr error
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(candidate)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return buf.Bytes(), nil
	}

	msg := "response is not valid JSON"
	if firstErr != nil {
		msg += ": " + firstErr.Error()
	}
	return nil, &ValidationError{Kind: KindParse, Message: msg, Err: firstErr}
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}

	objectStart := strings.Index(trimmed, "{")
	arrayStart := strings.Index(trimmed, "[")

	start := -1
	closeChar := ""
	switch {
	case objectStart >= 0 && arrayStart >= 0:
		if objectStart < arrayStart {
			start = objectStart
			closeChar = "}"
		} else {
			start = arrayStart
			closeChar = "]"
		}
	case objectStart >= 0:
		start = objectStart
		closeChar = "}"
	case arrayStart >= 0:
		start = arrayStart
		closeChar = "]"
	default:
		return ""
	}

	end := strings.LastIndex(trimmed, closeChar)
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}
