// Package prompts provides prompt management with embedded defaults and
// directory-based overrides.
//
// Embedded .tmpl files in code are the source of truth for defaults. An
// override directory may replace any of them by key: the key "ocr.user"
// maps to the file "ocr/user.tmpl".
//
// Resolution order:
//  1. Override file (if an override directory is configured and has one)
//  2. Embedded default (registered at startup)
package prompts

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   // Hierarchical key: ocr.user
	Text        string   // The prompt text (Go template)
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 hash of the text for change detection
}

// ResolvedPrompt is the result of resolving a prompt key.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Variables  []string `json:"variables,omitempty"`
	IsOverride bool     `json:"is_override"`
	Hash       string   `json:"hash"` // Ties LLM calls to exact prompt versions
}

// Rendered is a prompt with all placeholders substituted.
type Rendered struct {
	Key  string
	Text string
	Hash string // Hash of the template, not the rendered text
}
