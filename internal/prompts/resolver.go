package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// validKeyPattern matches valid prompt keys (alphanumeric with dots, underscores).
var validKeyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z0-9_]+)*$`)

// Resolver resolves prompts with directory overrides.
// Resolution order: override file > embedded default
type Resolver struct {
	overrides fs.FS
	embedded  map[string]EmbeddedPrompt
	mu        sync.RWMutex
	logger    *slog.Logger
}

// NewResolver creates a new prompt resolver. An empty overrideDir disables overrides.
func NewResolver(overrideDir string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		embedded: make(map[string]EmbeddedPrompt),
		logger:   logger,
	}
	r.SetOverrideDir(overrideDir)
	return r
}

// SetOverrideDir swaps the override directory. Registered embedded
// prompts are kept.
func (r *Resolver) SetOverrideDir(dir string) {
	var overrides fs.FS
	if dir != "" {
		overrides = os.DirFS(dir)
	}
	r.mu.Lock()
	r.overrides = overrides
	r.mu.Unlock()
}

// Register registers an embedded prompt.
// This should be called during initialization by each stage.
func (r *Resolver) Register(prompt EmbeddedPrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prompt.Hash == "" {
		prompt.Hash = HashText(prompt.Text)
	}
	if prompt.Variables == nil {
		prompt.Variables = ExtractVariables(prompt.Text)
	}

	r.embedded[prompt.Key] = prompt
	r.logger.Debug("registered embedded prompt", "key", prompt.Key, "vars", prompt.Variables)
}

// Resolve returns the override for key if one exists, otherwise the embedded default.
func (r *Resolver) Resolve(key string) (*ResolvedPrompt, error) {
	if !validKeyPattern.MatchString(key) {
		return nil, fmt.Errorf("%w: invalid prompt key %q", ErrTemplateNotFound, key)
	}

	r.mu.RLock()
	overrides := r.overrides
	r.mu.RUnlock()

	if overrides != nil {
		data, err := fs.ReadFile(overrides, overrideFile(key))
		switch {
		case err == nil:
			text := string(data)
			return &ResolvedPrompt{
				Key:        key,
				Text:       text,
				Variables:  ExtractVariables(text),
				IsOverride: true,
				Hash:       HashText(text),
			}, nil
		case !errors.Is(err, fs.ErrNotExist):
			r.logger.Warn("failed to read prompt override", "key", key, "error", err)
			// Fall through to embedded default
		}
	}

	r.mu.RLock()
	embedded, ok := r.embedded[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
	}

	return &ResolvedPrompt{
		Key:       key,
		Text:      embedded.Text,
		Variables: embedded.Variables,
		Hash:      embedded.Hash,
	}, nil
}

// Render resolves key and substitutes vars.
func (r *Resolver) Render(key string, vars map[string]any) (*Rendered, error) {
	p, err := r.Resolve(key)
	if err != nil {
		return nil, err
	}
	text, err := Render(key, p.Text, vars)
	if err != nil {
		return nil, err
	}
	return &Rendered{Key: key, Text: text, Hash: p.Hash}, nil
}

// GetEmbedded returns the embedded default for a key (no override resolution).
func (r *Resolver) GetEmbedded(key string) (*EmbeddedPrompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.embedded[key]
	return &p, ok
}

// AllEmbedded returns all registered embedded prompts sorted by key.
func (r *Resolver) AllEmbedded() []EmbeddedPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]EmbeddedPrompt, 0, len(r.embedded))
	for _, p := range r.embedded {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// overrideFile maps "ocr.user" to "ocr/user.tmpl".
func overrideFile(key string) string {
	return strings.ReplaceAll(key, ".", "/") + ".tmpl"
}
