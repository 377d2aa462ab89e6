// Package budget holds the prompts for budget analysis, spending plans
// and period comparison. Each ref has system, user and repair templates.
package budget

import (
	_ "embed"

	"github.com/jackzampolin/tally/internal/prompts"
)

// Prompt refs.
const (
	AnalysisRef = "budget.analysis"
	PlanRef     = "budget.plan"
	CompareRef  = "budget.compare"
)

var (
	//go:embed analysis/system.tmpl
	analysisSystem string
	//go:embed analysis/user.tmpl
	analysisUser string
	//go:embed analysis/repair.tmpl
	analysisRepair string

	//go:embed plan/system.tmpl
	planSystem string
	//go:embed plan/user.tmpl
	planUser string
	//go:embed plan/repair.tmpl
	planRepair string

	//go:embed compare/system.tmpl
	compareSystem string
	//go:embed compare/user.tmpl
	compareUser string
	//go:embed compare/repair.tmpl
	compareRepair string
)

func RegisterPrompts(r *prompts.Resolver) {
	for _, set := range []struct {
		ref, what            string
		system, user, repair string
	}{
		{AnalysisRef, "budget analysis", analysisSystem, analysisUser, analysisRepair},
		{PlanRef, "spending plan", planSystem, planUser, planRepair},
		{CompareRef, "period comparison", compareSystem, compareUser, compareRepair},
	} {
		r.Register(prompts.EmbeddedPrompt{
			Key:         set.ref + ".system",
			Text:        set.system,
			Description: "System prompt for " + set.what,
		})
		r.Register(prompts.EmbeddedPrompt{
			Key:         set.ref + ".user",
			Text:        set.user,
			Description: "User prompt for " + set.what + " - embeds computed metrics and schema",
		})
		r.Register(prompts.EmbeddedPrompt{
			Key:         set.ref + ".repair",
			Text:        set.repair,
			Description: "Corrective feedback for " + set.what,
		})
	}
}
