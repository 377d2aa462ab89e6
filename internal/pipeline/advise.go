package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jackzampolin/tally/internal/budget"
	"github.com/jackzampolin/tally/internal/prompts/advice"
	budgetprompts "github.com/jackzampolin/tally/internal/prompts/budget"
	"github.com/jackzampolin/tally/internal/providers"
	"github.com/jackzampolin/tally/internal/schema"
)

// DefaultTargetSavingsRate is the spending plan target when none is given.
var DefaultTargetSavingsRate = decimal.NewFromInt(20)

// Advisor runs the guidance stages. Every figure a model sees is computed
// by the budget package first, and any output that never validates is an
// *AdviceError.
type Advisor struct {
	*stage
}

// NewAdvisor creates an advisor. cfg.Client needs no vision support.
func NewAdvisor(cfg Config) (*Advisor, error) {
	s, err := newStage(StageAdvise, cfg)
	if err != nil {
		return nil, err
	}
	return &Advisor{stage: s}, nil
}

// AdviceRequest asks for advice toward a goal given a month of statistics.
// Both maps are passed to the model as-is.
type AdviceRequest struct {
	Goal         map[string]any
	MonthlyStats map[string]any
	Model        string
	SchemaRef    string // Default schema.Advice
	PromptRef    string // Default advice.Ref
	TaskID       string
}

// AdviceItem is one piece of advice.
type AdviceItem struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Priority string `json:"priority,omitempty"`
}

type AdviceResult struct {
	Goal     map[string]any `json:"goal"`
	Advice   []AdviceItem   `json:"advice"`
	Attempts int            `json:"attempts"`
	State    State          `json:"state"`
}

// Advise returns 3 to 6 pieces of advice for req.Goal.
func (a *Advisor) Advise(ctx context.Context, req AdviceRequest) (*AdviceResult, error) {
	if len(req.Goal) == 0 || len(req.MonthlyStats) == 0 {
		return nil, fmt.Errorf("%w: goal and monthly_stats are required", ErrInvalidRequest)
	}

	var out struct {
		Advice []AdviceItem `json:"advice"`
	}
	res, err := a.run(ctx, guidance{
		kind:      "advice",
		format:    "advice",
		taskID:    req.TaskID,
		model:     req.Model,
		schemaRef: orDefault(req.SchemaRef, schema.Advice),
		promptRef: orDefault(req.PromptRef, advice.Ref),
		context: map[string]any{
			"goal":          req.Goal,
			"monthly_stats": req.MonthlyStats,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &AdviceResult{Goal: req.Goal, Advice: out.Advice, Attempts: res.attempts, State: res.state}, nil
}

// BudgetRequest asks for an analysis of one period of finances.
type BudgetRequest struct {
	Financials   budget.Financials
	PeriodMonths int       // One of budget.Periods; default 1
	Goals        []string  // Optional
	AsOf         time.Time // Analysis date; default now
	Model        string
	SchemaRef    string // Default schema.BudgetAnalysis
	PromptRef    string // Default budgetprompts.AnalysisRef
	TaskID       string
}

// Recommendation is one prioritized action.
type Recommendation struct {
	Area     string `json:"area"`
	Action   string `json:"action"`
	Priority string `json:"priority"`
}

// BudgetAnalysis is the model-written part of a budget result.
type BudgetAnalysis struct {
	Summary         string           `json:"summary"`
	HealthScore     int              `json:"health_score"`
	Strengths       []string         `json:"strengths"`
	Concerns        []string         `json:"concerns"`
	Recommendations []Recommendation `json:"recommendations"`
}

type BudgetResult struct {
	Analysis     BudgetAnalysis `json:"analysis"`
	Metrics      budget.Metrics `json:"financial_metrics"`
	PeriodMonths int            `json:"time_period_months"`
	Attempts     int            `json:"attempts"`
	State        State          `json:"state"`
}

type budgetContext struct {
	FinancialData    budget.Financials `json:"financial_data"`
	Metrics          budget.Metrics    `json:"metrics"`
	TimePeriodMonths int               `json:"time_period_months"`
	UserGoals        []string          `json:"user_goals"`
	AnalysisDate     string            `json:"analysis_date"`
}

// AnalyzeBudget computes the period's metrics and asks the model to
// interpret them. The metrics in the result are the computed ones.
func (a *Advisor) AnalyzeBudget(ctx context.Context, req BudgetRequest) (*BudgetResult, error) {
	if err := req.Financials.Validate(); err != nil {
		return nil, err
	}
	if req.PeriodMonths == 0 {
		req.PeriodMonths = 1
	}
	if !budget.ValidPeriod(req.PeriodMonths) {
		return nil, fmt.Errorf("%w: period must be one of %v months, got %d", ErrInvalidRequest, budget.Periods, req.PeriodMonths)
	}
	if req.AsOf.IsZero() {
		req.AsOf = time.Now()
	}
	if req.Goals == nil {
		req.Goals = []string{}
	}

	metrics := budget.Compute(req.Financials)
	var out BudgetAnalysis
	res, err := a.run(ctx, guidance{
		kind:      "budget analysis",
		format:    "budget_analysis",
		taskID:    req.TaskID,
		model:     req.Model,
		schemaRef: orDefault(req.SchemaRef, schema.BudgetAnalysis),
		promptRef: orDefault(req.PromptRef, budgetprompts.AnalysisRef),
		context: budgetContext{
			FinancialData:    req.Financials,
			Metrics:          metrics,
			TimePeriodMonths: req.PeriodMonths,
			UserGoals:        req.Goals,
			AnalysisDate:     req.AsOf.Format(time.DateOnly),
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &BudgetResult{
		Analysis:     out,
		Metrics:      metrics,
		PeriodMonths: req.PeriodMonths,
		Attempts:     res.attempts,
		State:        res.state,
	}, nil
}

// PlanRequest asks for a spending plan that reaches a savings rate.
type PlanRequest struct {
	Financials        budget.Financials
	TargetSavingsRate decimal.Decimal // Percent of income; default 20
	Model             string
	SchemaRef         string // Default schema.SpendingPlan
	PromptRef         string // Default budgetprompts.PlanRef
	TaskID            string
}

// Allocation is the plan for one expense category.
type Allocation struct {
	Category    string      `json:"category"`
	Current     json.Number `json:"current"`
	Recommended json.Number `json:"recommended"`
	Note        string      `json:"note,omitempty"`
}

type SpendingPlan struct {
	Allocations []Allocation `json:"allocations"`
	Steps       []string     `json:"steps"`
}

// PlanResult carries the plan with the savings rate its recommended
// allocations actually reach, computed rather than taken from the model.
type PlanResult struct {
	Plan               SpendingPlan   `json:"plan"`
	CurrentMetrics     budget.Metrics `json:"current_metrics"`
	TargetSavingsRate  json.Number    `json:"target_savings_rate"`
	PlannedSavingsRate json.Number    `json:"planned_savings_rate"`
	Attempts           int            `json:"attempts"`
	State              State          `json:"state"`
}

// Plan generates a spending plan toward req.TargetSavingsRate.
func (a *Advisor) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	if err := req.Financials.Validate(); err != nil {
		return nil, err
	}
	if req.TargetSavingsRate.IsZero() {
		req.TargetSavingsRate = DefaultTargetSavingsRate
	}
	if req.TargetSavingsRate.IsNegative() || req.TargetSavingsRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: target savings rate must be between 0 and 100, got %s", ErrInvalidRequest, req.TargetSavingsRate)
	}

	metrics := budget.Compute(req.Financials)
	var out SpendingPlan
	res, err := a.run(ctx, guidance{
		kind:      "spending plan",
		format:    "spending_plan",
		taskID:    req.TaskID,
		model:     req.Model,
		schemaRef: orDefault(req.SchemaRef, schema.SpendingPlan),
		promptRef: orDefault(req.PromptRef, budgetprompts.PlanRef),
		context: map[string]any{
			"current_financial_data": req.Financials,
			"current_metrics":        metrics,
			"target_savings_rate":    json.Number(req.TargetSavingsRate.String()),
		},
	}, &out)
	if err != nil {
		return nil, err
	}

	planned, err := plannedSpending(out.Allocations)
	if err != nil {
		return nil, &AdviceError{Kind: "spending plan", Attempts: res.attempts, LastErr: err}
	}
	return &PlanResult{
		Plan:               out,
		CurrentMetrics:     metrics,
		TargetSavingsRate:  json.Number(req.TargetSavingsRate.String()),
		PlannedSavingsRate: json.Number(budget.SavingsRate(metrics.TotalIncome, planned).String()),
		Attempts:           res.attempts,
		State:              res.state,
	}, nil
}

func plannedSpending(allocs []Allocation) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, a := range allocs {
		d, err := decimal.NewFromString(a.Recommended.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("allocation %q: %w", a.Category, err)
		}
		sum = sum.Add(d)
	}
	return sum, nil
}

// CompareRequest asks how finances changed between two periods.
type CompareRequest struct {
	Current   budget.Financials
	Previous  budget.Financials
	Model     string
	SchemaRef string // Default schema.PeriodComparison
	PromptRef string // Default budgetprompts.CompareRef
	TaskID    string
}

type PeriodComparison struct {
	Trend           string   `json:"trend"`
	Summary         string   `json:"summary"`
	Improvements    []string `json:"improvements"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations,omitempty"`
}

type CompareResult struct {
	Comparison      PeriodComparison `json:"comparison"`
	CurrentMetrics  budget.Metrics   `json:"current_metrics"`
	PreviousMetrics budget.Metrics   `json:"previous_metrics"`
	Change          budget.Metrics   `json:"change"`
	Attempts        int              `json:"attempts"`
	State           State            `json:"state"`
}

type periodContext struct {
	Data    budget.Financials `json:"data"`
	Metrics budget.Metrics    `json:"metrics"`
}

// Compare computes both periods' metrics and their difference, then asks
// the model to interpret the trend.
func (a *Advisor) Compare(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	if err := req.Current.Validate(); err != nil {
		return nil, fmt.Errorf("current period: %w", err)
	}
	if err := req.Previous.Validate(); err != nil {
		return nil, fmt.Errorf("previous period: %w", err)
	}

	current := budget.Compute(req.Current)
	previous := budget.Compute(req.Previous)
	change := current.Sub(previous)

	var out PeriodComparison
	res, err := a.run(ctx, guidance{
		kind:      "period comparison",
		format:    "period_comparison",
		taskID:    req.TaskID,
		model:     req.Model,
		schemaRef: orDefault(req.SchemaRef, schema.PeriodComparison),
		promptRef: orDefault(req.PromptRef, budgetprompts.CompareRef),
		context: map[string]any{
			"current_period":  periodContext{Data: req.Current, Metrics: current},
			"previous_period": periodContext{Data: req.Previous, Metrics: previous},
			"change":          change,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &CompareResult{
		Comparison:      out,
		CurrentMetrics:  current,
		PreviousMetrics: previous,
		Change:          change,
		Attempts:        res.attempts,
		State:           res.state,
	}, nil
}

// guidance is one advisor call: a JSON context rendered into the ref's
// user prompt and a schema the reply must satisfy.
type guidance struct {
	kind      string
	format    string // Response format name sent to the provider
	taskID    string
	model     string
	schemaRef string
	promptRef string
	context   any
}

func (a *Advisor) run(ctx context.Context, g guidance, out any) (outcome, error) {
	doc, err := a.loadSchema(g.schemaRef)
	if err != nil {
		return outcome{}, err
	}
	keys, err := a.resolvePrompts(g.promptRef)
	if err != nil {
		return outcome{}, err
	}
	contextJSON, err := json.MarshalIndent(g.context, "", "  ")
	if err != nil {
		return outcome{}, fmt.Errorf("%s: encode context: %w", g.kind, err)
	}

	schemaText := doc.Text()
	system, err := a.render(keys.system, nil)
	if err != nil {
		return outcome{}, err
	}
	user, err := a.render(keys.user, map[string]any{
		"Context": string(contextJSON),
		"Schema":  schemaText,
	})
	if err != nil {
		return outcome{}, err
	}
	state := StateIdle
	a.transition(&state, StatePromptRendered, "task_id", g.taskID, "kind", g.kind)

	res, err := a.converge(ctx, exchange{
		taskID: g.taskID,
		model:  g.model,
		doc:    doc,
		format: &providers.ResponseFormat{Name: g.format, Schema: doc.Raw()},
		base: []providers.Message{
			{Role: providers.RoleSystem, Content: system.Text},
			{Role: providers.RoleUser, Content: user.Text},
		},
		prompt:     user,
		repairKey:  keys.repair,
		repairVars: map[string]any{"Schema": schemaText},
	}, out)
	if err != nil {
		return res, err
	}
	if res.lastErr != nil {
		a.logger.Warn(g.kind+" failed", "task_id", g.taskID, "attempts", res.attempts, "error", res.lastErr)
		return res, &AdviceError{Kind: g.kind, Attempts: res.attempts, LastErr: res.lastErr}
	}
	return res, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
