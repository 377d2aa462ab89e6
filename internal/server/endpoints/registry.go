package endpoints

import (
	"golang.org/x/sync/semaphore"

	"github.com/jackzampolin/tally/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// InFlight bounds concurrent pipeline requests. Nil means unbounded.
	InFlight        *semaphore.Weighted
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	lim := limiter{sem: cfg.InFlight}
	return []api.Endpoint{
		// Health
		&HealthEndpoint{},
		&StatusEndpoint{},

		// Pipeline
		&ExtractEndpoint{limiter: lim},
		&CategorizeEndpoint{limiter: lim},
		&ProcessEndpoint{limiter: lim},

		// Advice and budgets
		&AdviceEndpoint{limiter: lim},
		&BudgetAnalysisEndpoint{limiter: lim},
		&SpendingPlanEndpoint{limiter: lim},
		&PeriodComparisonEndpoint{limiter: lim},
		&BudgetMetricsEndpoint{},

		// Prompts
		&ListPromptsEndpoint{},
		&GetPromptEndpoint{},

		// Docs
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}
