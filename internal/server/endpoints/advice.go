package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tally/internal/api"
	"github.com/jackzampolin/tally/internal/budget"
	"github.com/jackzampolin/tally/internal/pipeline"
	"github.com/jackzampolin/tally/internal/svcctx"
)

// runAdvisor builds the advisor from live config, holds a pipeline slot
// while fn runs and writes its result as a task response.
func (l limiter) runAdvisor(w http.ResponseWriter, r *http.Request, taskID string,
	fn func(*pipeline.Advisor, *svcctx.Services) (any, error)) {
	s := servicesOrFail(w, r)
	if s == nil {
		return
	}
	advisor, err := s.Advisor()
	if err != nil {
		writeTaskError(w, taskID, err)
		return
	}

	release, ok := l.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	result, err := fn(advisor, s)
	if err != nil {
		writeTaskError(w, taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, TaskResponse{TaskID: taskID, Status: StatusSuccess, Data: result})
}

// ReadJSONFile decodes the JSON file at path into dst.
func ReadJSONFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ReadFinancialsFile loads and validates one period of finances.
func ReadFinancialsFile(path string) (budget.Financials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return budget.Financials{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	f, err := budget.Parse(data)
	if err != nil {
		return budget.Financials{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// AdviceRequest is the body for POST /advice.
type AdviceRequest struct {
	TaskID       string         `json:"task_id,omitempty"`
	Goal         map[string]any `json:"goal"`
	MonthlyStats map[string]any `json:"monthly_stats"`
	Model        string         `json:"model,omitempty"`
}

// AdviceEndpoint handles POST /advice.
type AdviceEndpoint struct {
	limiter limiter
}

func (e *AdviceEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/advice", e.handler
}

func (e *AdviceEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Goal advice
//	@Description	Generate 3 to 6 pieces of advice toward a goal from monthly statistics
//	@Tags			advice
//	@Accept			json
//	@Produce		json
//	@Param			request	body		AdviceRequest	true	"Goal and monthly statistics"
//	@Success		200		{object}	TaskResponse
//	@Failure		400		{object}	TaskResponse
//	@Failure		422		{object}	TaskResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/advice [post]
func (e *AdviceEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req AdviceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	e.limiter.runAdvisor(w, r, req.TaskID, func(a *pipeline.Advisor, s *svcctx.Services) (any, error) {
		return a.Advise(r.Context(), pipeline.AdviceRequest{
			Goal:         req.Goal,
			MonthlyStats: req.MonthlyStats,
			Model:        s.AdviceModel(req.Model),
			TaskID:       req.TaskID,
		})
	})
}

func (e *AdviceEndpoint) Command(getServerURL func() string) *cobra.Command {
	var model, taskID string
	cmd := &cobra.Command{
		Use:   "advice <context.json>",
		Short: "Get advice toward a goal from the server",
		Long: `Send a goal and monthly statistics for advice. The file holds an object
with "goal" and "monthly_stats" fields.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req AdviceRequest
			if err := ReadJSONFile(args[0], &req); err != nil {
				return err
			}
			req.TaskID, req.Model = taskID, model
			var resp TaskResponse
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), "/advice", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Advice model (server default when empty)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task ID")
	return cmd
}

// BudgetAnalysisRequest is the body for POST /budget/analyze.
type BudgetAnalysisRequest struct {
	TaskID       string            `json:"task_id,omitempty"`
	Financials   budget.Financials `json:"financials"`
	PeriodMonths int               `json:"period_months,omitempty"`
	Goals        []string          `json:"goals,omitempty"`
	Model        string            `json:"model,omitempty"`
}

// BudgetAnalysisEndpoint handles POST /budget/analyze.
type BudgetAnalysisEndpoint struct {
	limiter limiter
}

func (e *BudgetAnalysisEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/budget/analyze", e.handler
}

func (e *BudgetAnalysisEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Analyze a budget
//	@Description	Compute budget metrics and have the model interpret them
//	@Tags			budget
//	@Accept			json
//	@Produce		json
//	@Param			request	body		BudgetAnalysisRequest	true	"Finances for one period"
//	@Success		200		{object}	TaskResponse
//	@Failure		400		{object}	TaskResponse
//	@Failure		422		{object}	TaskResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/budget/analyze [post]
func (e *BudgetAnalysisEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req BudgetAnalysisRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	e.limiter.runAdvisor(w, r, req.TaskID, func(a *pipeline.Advisor, s *svcctx.Services) (any, error) {
		return a.AnalyzeBudget(r.Context(), pipeline.BudgetRequest{
			Financials:   req.Financials,
			PeriodMonths: req.PeriodMonths,
			Goals:        req.Goals,
			Model:        s.AdviceModel(req.Model),
			TaskID:       req.TaskID,
		})
	})
}

func (e *BudgetAnalysisEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		model, taskID string
		period        int
		goals         []string
	)
	cmd := &cobra.Command{
		Use:   "analyze <financials.json>",
		Short: "Analyze a budget on the server",
		Long: `Analyze one period of finances. The file holds "income", "expenses",
"savings" and "debts" objects mapping names to amounts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ReadFinancialsFile(args[0])
			if err != nil {
				return err
			}
			var resp TaskResponse
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), "/budget/analyze", BudgetAnalysisRequest{
				TaskID:       taskID,
				Financials:   f,
				PeriodMonths: period,
				Goals:        goals,
				Model:        model,
			}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&period, "period", 1, "Analysis period in months (1, 3, 6 or 12)")
	cmd.Flags().StringArrayVarP(&goals, "goal", "g", nil, "Financial goal (repeatable)")
	cmd.Flags().StringVar(&model, "model", "", "Advice model (server default when empty)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task ID")
	return cmd
}

// SpendingPlanRequest is the body for POST /budget/plan.
type SpendingPlanRequest struct {
	TaskID            string            `json:"task_id,omitempty"`
	Financials        budget.Financials `json:"financials"`
	TargetSavingsRate decimal.Decimal   `json:"target_savings_rate"`
	Model             string            `json:"model,omitempty"`
}

// SpendingPlanEndpoint handles POST /budget/plan.
type SpendingPlanEndpoint struct {
	limiter limiter
}

func (e *SpendingPlanEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/budget/plan", e.handler
}

func (e *SpendingPlanEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Spending plan
//	@Description	Plan spending that reaches a target savings rate
//	@Tags			budget
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SpendingPlanRequest	true	"Finances and target"
//	@Success		200		{object}	TaskResponse
//	@Failure		400		{object}	TaskResponse
//	@Failure		422		{object}	TaskResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/budget/plan [post]
func (e *SpendingPlanEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SpendingPlanRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	e.limiter.runAdvisor(w, r, req.TaskID, func(a *pipeline.Advisor, s *svcctx.Services) (any, error) {
		return a.Plan(r.Context(), pipeline.PlanRequest{
			Financials:        req.Financials,
			TargetSavingsRate: req.TargetSavingsRate,
			Model:             s.AdviceModel(req.Model),
			TaskID:            req.TaskID,
		})
	})
}

func (e *SpendingPlanEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		model, taskID string
		target        float64
	)
	cmd := &cobra.Command{
		Use:   "plan <financials.json>",
		Short: "Build a spending plan on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ReadFinancialsFile(args[0])
			if err != nil {
				return err
			}
			var resp TaskResponse
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), "/budget/plan", SpendingPlanRequest{
				TaskID:            taskID,
				Financials:        f,
				TargetSavingsRate: decimal.NewFromFloat(target),
				Model:             model,
			}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().Float64Var(&target, "target", 20, "Target savings rate, percent of income")
	cmd.Flags().StringVar(&model, "model", "", "Advice model (server default when empty)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task ID")
	return cmd
}

// PeriodComparisonRequest is the body for POST /budget/compare.
type PeriodComparisonRequest struct {
	TaskID   string            `json:"task_id,omitempty"`
	Current  budget.Financials `json:"current"`
	Previous budget.Financials `json:"previous"`
	Model    string            `json:"model,omitempty"`
}

// PeriodComparisonEndpoint handles POST /budget/compare.
type PeriodComparisonEndpoint struct {
	limiter limiter
}

func (e *PeriodComparisonEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/budget/compare", e.handler
}

func (e *PeriodComparisonEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Compare periods
//	@Description	Compute metrics for two periods and have the model explain the trend
//	@Tags			budget
//	@Accept			json
//	@Produce		json
//	@Param			request	body		PeriodComparisonRequest	true	"Current and previous finances"
//	@Success		200		{object}	TaskResponse
//	@Failure		400		{object}	TaskResponse
//	@Failure		422		{object}	TaskResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/budget/compare [post]
func (e *PeriodComparisonEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req PeriodComparisonRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	e.limiter.runAdvisor(w, r, req.TaskID, func(a *pipeline.Advisor, s *svcctx.Services) (any, error) {
		return a.Compare(r.Context(), pipeline.CompareRequest{
			Current:  req.Current,
			Previous: req.Previous,
			Model:    s.AdviceModel(req.Model),
			TaskID:   req.TaskID,
		})
	})
}

func (e *PeriodComparisonEndpoint) Command(getServerURL func() string) *cobra.Command {
	var model, taskID string
	cmd := &cobra.Command{
		Use:   "compare <current.json> <previous.json>",
		Short: "Compare two periods on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := ReadFinancialsFile(args[0])
			if err != nil {
				return err
			}
			previous, err := ReadFinancialsFile(args[1])
			if err != nil {
				return err
			}
			var resp TaskResponse
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), "/budget/compare", PeriodComparisonRequest{
				TaskID:   taskID,
				Current:  current,
				Previous: previous,
				Model:    model,
			}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Advice model (server default when empty)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task ID")
	return cmd
}

// BudgetMetricsRequest is the body for POST /budget/metrics.
type BudgetMetricsRequest struct {
	Financials budget.Financials `json:"financials"`
}

// BudgetMetricsEndpoint handles POST /budget/metrics. No model is called.
type BudgetMetricsEndpoint struct{}

func (e *BudgetMetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/budget/metrics", e.handler
}

func (e *BudgetMetricsEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Budget metrics
//	@Description	Compute totals, savings rate and expense ratios without a model
//	@Tags			budget
//	@Accept			json
//	@Produce		json
//	@Param			request	body		BudgetMetricsRequest	true	"Finances for one period"
//	@Success		200		{object}	budget.Metrics
//	@Failure		400		{object}	ErrorResponse
//	@Router			/budget/metrics [post]
func (e *BudgetMetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req BudgetMetricsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Financials.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, budget.Compute(req.Financials))
}

func (e *BudgetMetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics <financials.json>",
		Short: "Compute budget metrics on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ReadFinancialsFile(args[0])
			if err != nil {
				return err
			}
			var metrics budget.Metrics
			if err := api.NewClient(getServerURL()).Post(cmd.Context(), "/budget/metrics", BudgetMetricsRequest{Financials: f}, &metrics); err != nil {
				return err
			}
			return api.Output(metrics)
		},
	}
}
