package ocr

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

// Ref is the prompt ref for receipt extraction.
const Ref = "ocr"

// Prompt keys
const (
	SystemPromptKey = Ref + ".system"
	UserPromptKey   = Ref + ".user"
	RepairPromptKey = Ref + ".repair"
)

// RegisterPrompts registers the extraction prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Receipt extraction system prompt",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPrompt,
		Description: "Receipt extraction user prompt - embeds the output schema",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         RepairPromptKey,
		Text:        repairPrompt,
		Description: "Corrective feedback after an invalid extraction response",
	})
}
