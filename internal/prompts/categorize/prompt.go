package categorize

import (
	_ "embed"

	"github.com/jackzampolin/tally/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPrompt string

//go:embed repair.tmpl
var repairPrompt string

// Ref is the prompt ref for item categorization.
const Ref = "categorize"

// Prompt keys
const (
	SystemPromptKey = Ref + ".system"
	UserPromptKey   = Ref + ".user"
	RepairPromptKey = Ref + ".repair"
)

// RegisterPrompts registers the categorization prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Categorization system prompt",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPrompt,
		Description: "Categorization user prompt - embeds categories, items and schema",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         RepairPromptKey,
		Text:        repairPrompt,
		Description: "Corrective feedback naming invalid categories and the allowed set",
	})
}
