package advice

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

// Ref is the prompt ref for goal-based advice.
const Ref = "advice"

const (
	SystemPromptKey = Ref + ".system"
	UserPromptKey   = Ref + ".user"
	RepairPromptKey = Ref + ".repair"
)

func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Advice system prompt",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPrompt,
		Description: "Advice user prompt - embeds goal, monthly stats and schema",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         RepairPromptKey,
		Text:        repairPrompt,
		Description: "Corrective feedback for advice that failed validation",
	})
}
