package main

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tally/internal/api"
	"github.com/jackzampolin/tally/internal/budget"
	"github.com/jackzampolin/tally/internal/ingest"
	"github.com/jackzampolin/tally/internal/pipeline"
	"github.com/jackzampolin/tally/internal/server/endpoints"
	"github.com/jackzampolin/tally/internal/svcctx"
)

var (
	adviceModel  string
	budgetPeriod int
	budgetGoals  []string
	budgetTarget float64
)

// runAdvisor builds services and the advisor, runs fn and prints its result.
func runAdvisor(fn func(*svcctx.Services, *pipeline.Advisor) (any, error)) error {
	svc, cleanup, err := buildServices()
	if err != nil {
		return err
	}
	defer cleanup()

	advisor, err := svc.Advisor()
	if err != nil {
		return err
	}
	result, err := fn(svc, advisor)
	if err != nil {
		return err
	}
	return api.Output(result)
}

var adviseCmd = &cobra.Command{
	Use:   "advise <context.json>",
	Short: "Get advice toward a savings goal",
	Long: `Generate 3 to 6 pieces of advice. The file holds an object with a "goal"
and the "monthly_stats" to base the advice on.`,
	Example: `  tally advise march.json --model qwen3:0.6b`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in endpoints.AdviceRequest
		if err := endpoints.ReadJSONFile(args[0], &in); err != nil {
			return err
		}
		return runAdvisor(func(svc *svcctx.Services, a *pipeline.Advisor) (any, error) {
			return a.Advise(cmd.Context(), pipeline.AdviceRequest{
				Goal:         in.Goal,
				MonthlyStats: in.MonthlyStats,
				Model:        svc.AdviceModel(adviceModel),
				TaskID:       ingest.TaskID(args[0]),
			})
		})
	},
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Budget metrics, analysis, spending plans and period comparison",
	Long: `Budget commands read finances from JSON files holding "income",
"expenses", "savings" and "debts" objects that map names to amounts:

  {"income": {"salary": 5000}, "expenses": {"housing": 1500, "food": 600},
   "savings": {"emergency_fund": 5000}, "debts": {"car_loan": 10000}}

Metrics are always computed locally. Only analyze, plan and compare call a
model.`,
}

var budgetMetricsCmd = &cobra.Command{
	Use:   "metrics <financials.json>",
	Short: "Compute totals, savings rate and expense ratios",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := endpoints.ReadFinancialsFile(args[0])
		if err != nil {
			return err
		}
		return api.Output(budget.Compute(f))
	},
}

var budgetAnalyzeCmd = &cobra.Command{
	Use:     "analyze <financials.json>",
	Short:   "Analyze a budget",
	Example: `  tally budget analyze q1.json --period 3 -g "Pay off credit card"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := endpoints.ReadFinancialsFile(args[0])
		if err != nil {
			return err
		}
		return runAdvisor(func(svc *svcctx.Services, a *pipeline.Advisor) (any, error) {
			return a.AnalyzeBudget(cmd.Context(), pipeline.BudgetRequest{
				Financials:   f,
				PeriodMonths: budgetPeriod,
				Goals:        budgetGoals,
				Model:        svc.AdviceModel(adviceModel),
				TaskID:       ingest.TaskID(args[0]),
			})
		})
	},
}

var budgetPlanCmd = &cobra.Command{
	Use:   "plan <financials.json>",
	Short: "Build a spending plan that reaches a savings rate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := endpoints.ReadFinancialsFile(args[0])
		if err != nil {
			return err
		}
		return runAdvisor(func(svc *svcctx.Services, a *pipeline.Advisor) (any, error) {
			return a.Plan(cmd.Context(), pipeline.PlanRequest{
				Financials:        f,
				TargetSavingsRate: decimal.NewFromFloat(budgetTarget),
				Model:             svc.AdviceModel(adviceModel),
				TaskID:            ingest.TaskID(args[0]),
			})
		})
	},
}

var budgetCompareCmd = &cobra.Command{
	Use:   "compare <current.json> <previous.json>",
	Short: "Compare two periods of finances",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := endpoints.ReadFinancialsFile(args[0])
		if err != nil {
			return err
		}
		previous, err := endpoints.ReadFinancialsFile(args[1])
		if err != nil {
			return err
		}
		return runAdvisor(func(svc *svcctx.Services, a *pipeline.Advisor) (any, error) {
			return a.Compare(cmd.Context(), pipeline.CompareRequest{
				Current:  current,
				Previous: previous,
				Model:    svc.AdviceModel(adviceModel),
				TaskID:   ingest.TaskID(args[0]),
			})
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{adviseCmd, budgetAnalyzeCmd, budgetPlanCmd, budgetCompareCmd} {
		cmd.Flags().StringVar(&adviceModel, "model", "", "Advice model (config default when empty)")
	}
	budgetAnalyzeCmd.Flags().IntVar(&budgetPeriod, "period", 1, "Analysis period in months (1, 3, 6 or 12)")
	budgetAnalyzeCmd.Flags().StringArrayVarP(&budgetGoals, "goal", "g", nil, "Financial goal (repeatable)")
	budgetPlanCmd.Flags().Float64Var(&budgetTarget, "target", 20, "Target savings rate, percent of income")

	budgetCmd.AddCommand(budgetMetricsCmd, budgetAnalyzeCmd, budgetPlanCmd, budgetCompareCmd)
	rootCmd.AddCommand(adviseCmd, budgetCmd)
}
