// Package budget computes deterministic figures from household finances.
// Model-written analysis is layered on top in the pipeline package; the
// numbers here never come from a model.
package budget

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidFinancials is returned for finances that cannot be measured.
var ErrInvalidFinancials = errors.New("invalid financial data")

// EssentialCategories are the expense keys counted as essential spending.
var EssentialCategories = []string{"housing", "utilities", "food", "transportation", "insurance"}

// ratioPlaces is the precision of every percentage in Metrics.
const ratioPlaces = 2

var hundred = decimal.NewFromInt(100)

// Amounts maps a category name to an amount. It encodes as bare JSON
// numbers so it can be embedded in prompt context verbatim.
type Amounts map[string]decimal.Decimal

// Total sums every amount.
func (a Amounts) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range a {
		sum = sum.Add(v)
	}
	return sum
}

// MarshalJSON implements json.Marshaler.
func (a Amounts) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	out := make(map[string]json.Number, len(a))
	for k, v := range a {
		out[k] = json.Number(v.String())
	}
	return json.Marshal(out)
}

// Financials is one period of household finances. Income and Expenses
// are flows for the period; Savings and Debts are balances.
type Financials struct {
	Income   Amounts `json:"income"`
	Expenses Amounts `json:"expenses"`
	Savings  Amounts `json:"savings"`
	Debts    Amounts `json:"debts"`
}

// Validate requires all four sections. A section may be empty but not
// absent. Amounts must be non-negative and keys non-blank.
func (f Financials) Validate() error {
	sections := []struct {
		name    string
		amounts Amounts
	}{
		{"income", f.Income},
		{"expenses", f.Expenses},
		{"savings", f.Savings},
		{"debts", f.Debts},
	}
	var missing []string
	for _, s := range sections {
		if s.amounts == nil {
			missing = append(missing, s.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing sections %s", ErrInvalidFinancials, strings.Join(missing, ", "))
	}
	for _, s := range sections {
		for _, key := range sortedKeys(s.amounts) {
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("%w: blank key in %s", ErrInvalidFinancials, s.name)
			}
			if s.amounts[key].IsNegative() {
				return fmt.Errorf("%w: %s.%s is negative", ErrInvalidFinancials, s.name, key)
			}
		}
	}
	return nil
}

// Metrics are the figures derived from one Financials. Ratios are
// percentages of total income and are zero when there is no income.
type Metrics struct {
	TotalIncome                decimal.Decimal
	TotalExpenses              decimal.Decimal
	NetCashFlow                decimal.Decimal
	TotalSavings               decimal.Decimal
	TotalDebt                  decimal.Decimal
	SavingsRate                decimal.Decimal
	EssentialExpensesRatio     decimal.Decimal
	DiscretionaryExpensesRatio decimal.Decimal
	DebtToIncomeRatio          decimal.Decimal
}

type metricsWire struct {
	TotalIncome                json.Number `json:"total_income"`
	TotalExpenses              json.Number `json:"total_expenses"`
	NetCashFlow                json.Number `json:"net_cash_flow"`
	TotalSavings               json.Number `json:"total_savings"`
	TotalDebt                  json.Number `json:"total_debt"`
	SavingsRate                json.Number `json:"savings_rate"`
	EssentialExpensesRatio     json.Number `json:"essential_expenses_ratio"`
	DiscretionaryExpensesRatio json.Number `json:"discretionary_expenses_ratio"`
	DebtToIncomeRatio          json.Number `json:"debt_to_income_ratio"`
}

// MarshalJSON implements json.Marshaler.
func (m Metrics) MarshalJSON() ([]byte, error) {
	n := func(d decimal.Decimal) json.Number { return json.Number(d.String()) }
	return json.Marshal(metricsWire{
		TotalIncome:                n(m.TotalIncome),
		TotalExpenses:              n(m.TotalExpenses),
		NetCashFlow:                n(m.NetCashFlow),
		TotalSavings:               n(m.TotalSavings),
		TotalDebt:                  n(m.TotalDebt),
		SavingsRate:                n(m.SavingsRate),
		EssentialExpensesRatio:     n(m.EssentialExpensesRatio),
		DiscretionaryExpensesRatio: n(m.DiscretionaryExpensesRatio),
		DebtToIncomeRatio:          n(m.DebtToIncomeRatio),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var w metricsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	fields := []struct {
		dst *decimal.Decimal
		src json.Number
	}{
		{&m.TotalIncome, w.TotalIncome},
		{&m.TotalExpenses, w.TotalExpenses},
		{&m.NetCashFlow, w.NetCashFlow},
		{&m.TotalSavings, w.TotalSavings},
		{&m.TotalDebt, w.TotalDebt},
		{&m.SavingsRate, w.SavingsRate},
		{&m.EssentialExpensesRatio, w.EssentialExpensesRatio},
		{&m.DiscretionaryExpensesRatio, w.DiscretionaryExpensesRatio},
		{&m.DebtToIncomeRatio, w.DebtToIncomeRatio},
	}
	for _, f := range fields {
		if f.src == "" {
			*f.dst = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(string(f.src))
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

// Compute derives Metrics from f. It does not validate f.
func Compute(f Financials) Metrics {
	income := f.Income.Total()
	expenses := f.Expenses.Total()
	essential := decimal.Zero
	for _, c := range EssentialCategories {
		essential = essential.Add(f.Expenses[c])
	}

	m := Metrics{
		TotalIncome:   income,
		TotalExpenses: expenses,
		NetCashFlow:   income.Sub(expenses),
		TotalSavings:  f.Savings.Total(),
		TotalDebt:     f.Debts.Total(),
	}
	m.SavingsRate = SavingsRate(income, expenses)
	m.EssentialExpensesRatio = ratio(essential, income)
	m.DiscretionaryExpensesRatio = ratio(expenses.Sub(essential), income)
	m.DebtToIncomeRatio = ratio(m.TotalDebt, income)
	return m
}

// Sub returns the change from prev to m, field by field.
func (m Metrics) Sub(prev Metrics) Metrics {
	return Metrics{
		TotalIncome:                m.TotalIncome.Sub(prev.TotalIncome),
		TotalExpenses:              m.TotalExpenses.Sub(prev.TotalExpenses),
		NetCashFlow:                m.NetCashFlow.Sub(prev.NetCashFlow),
		TotalSavings:               m.TotalSavings.Sub(prev.TotalSavings),
		TotalDebt:                  m.TotalDebt.Sub(prev.TotalDebt),
		SavingsRate:                m.SavingsRate.Sub(prev.SavingsRate),
		EssentialExpensesRatio:     m.EssentialExpensesRatio.Sub(prev.EssentialExpensesRatio),
		DiscretionaryExpensesRatio: m.DiscretionaryExpensesRatio.Sub(prev.DiscretionaryExpensesRatio),
		DebtToIncomeRatio:          m.DebtToIncomeRatio.Sub(prev.DebtToIncomeRatio),
	}
}

// SavingsRate is the share of income left after spending, as a
// percentage. It is zero when there is no income.
func SavingsRate(income, spending decimal.Decimal) decimal.Decimal {
	return ratio(income.Sub(spending), income)
}

func ratio(part, income decimal.Decimal) decimal.Decimal {
	if !income.IsPositive() {
		return decimal.Zero
	}
	return part.Div(income).Mul(hundred).Round(ratioPlaces)
}

func sortedKeys(a Amounts) []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Periods are the analysis windows, in months.
var Periods = []int{1, 3, 6, 12}

// ValidPeriod reports whether months is one of Periods.
func ValidPeriod(months int) bool {
	for _, p := range Periods {
		if p == months {
			return true
		}
	}
	return false
}

// Parse decodes and validates financials from JSON.
func Parse(data []byte) (Financials, error) {
	var f Financials
	if err := json.Unmarshal(data, &f); err != nil {
		return Financials{}, fmt.Errorf("%w: %v", ErrInvalidFinancials, err)
	}
	if err := f.Validate(); err != nil {
		return Financials{}, err
	}
	return f, nil
}
