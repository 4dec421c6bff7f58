// Package dues computes the dues a member owes for a billing period from
// their rule, assignment and wage context.
package dues

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	DueDateOffsetDays int
	Workers           int
}

func DefaultConfig() Config {
	return Config{
		DueDateOffsetDays: 15,
		Workers:           4,
	}
}

// Input is everything needed to price one member for one period. Wage
// fields are optional; rules that need a missing value report an error.
type Input struct {
	MemberID      string                 `json:"member_id"`
	Rule          domain.DuesRule        `json:"rule"`
	Assignment    *domain.DuesAssignment `json:"assignment,omitempty"`
	PeriodStart   time.Time              `json:"period_start"`
	PeriodEnd     time.Time              `json:"period_end"`
	GrossWages    *money.Money           `json:"gross_wages,omitempty"`
	BaseSalary    *money.Money           `json:"base_salary,omitempty"`
	HoursWorked   *decimal.Decimal       `json:"hours_worked,omitempty"`
	OvertimeHours *decimal.Decimal       `json:"overtime_hours,omitempty"`
}

type BreakdownItem struct {
	Component string      `json:"component"`
	Detail    string      `json:"detail"`
	Amount    money.Money `json:"amount"`
}

type Result struct {
	MemberID        string                 `json:"member_id"`
	RuleID          string                 `json:"rule_id"`
	CalculationType domain.CalculationType `json:"calculation_type"`
	TotalAmount     money.Money            `json:"total_amount"`
	Breakdown       []BreakdownItem        `json:"breakdown"`
	Errors          []string               `json:"errors"`
	DueDate         time.Time              `json:"due_date"`
}

func (r *Result) OK() bool { return len(r.Errors) == 0 }

func (r *Result) fail(format string, args ...interface{}) *Result {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.TotalAmount = money.Zero
	r.Breakdown = nil
	return r
}

type Calculator struct {
	cfg    Config
	logger *logger.Logger
}

func NewCalculator(cfg Config, log *logger.Logger) *Calculator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Calculator{cfg: cfg, logger: log}
}

// CalculateMemberDues never returns an error; problems are reported in
// Result.Errors with a zero TotalAmount.
func (c *Calculator) CalculateMemberDues(in Input) *Result {
	res := &Result{
		MemberID:        in.MemberID,
		RuleID:          in.Rule.ID,
		CalculationType: in.Rule.CalculationType,
		Breakdown:       []BreakdownItem{},
		Errors:          []string{},
		DueDate:         domain.DateOf(in.PeriodEnd).AddDate(0, 0, c.cfg.DueDateOffsetDays),
	}

	if in.Assignment != nil && in.Assignment.OverrideAmount != nil {
		res.CalculationType = domain.CalculationOverride
		res.Breakdown = append(res.Breakdown, BreakdownItem{
			Component: "override",
			Detail:    "assignment override amount",
			Amount:    *in.Assignment.OverrideAmount,
		})
		return c.finish(res)
	}

	var err error
	switch in.Rule.CalculationType {
	case domain.CalculationFlatRate:
		res.Breakdown = append(res.Breakdown, BreakdownItem{
			Component: "flat_rate",
			Detail:    "fixed amount",
			Amount:    in.Rule.FlatAmount,
		})
	case domain.CalculationPercentage:
		err = c.percentage(in, res)
	case domain.CalculationHourly:
		err = c.hourly(in, res)
	case domain.CalculationTiered:
		err = c.tiered(in, res)
	case domain.CalculationCustomFormula:
		err = c.formula(in, res)
	default:
		err = fmt.Errorf("unsupported calculation type %q", in.Rule.CalculationType)
	}
	if err != nil {
		return res.fail("%s", err.Error())
	}
	return c.finish(res)
}

func (c *Calculator) finish(res *Result) *Result {
	total := money.Zero
	for _, item := range res.Breakdown {
		total = total.Add(item.Amount)
	}
	total = total.Round()
	if total.IsNegative() {
		return res.fail("calculated dues %s cannot be negative", total)
	}
	res.TotalAmount = total
	return res
}

func baseValue(in Input) (money.Money, string, error) {
	field := in.Rule.BaseField
	if field == "" {
		field = domain.BaseFieldGrossWages
	}
	var v *money.Money
	switch field {
	case domain.BaseFieldGrossWages:
		v = in.GrossWages
	case domain.BaseFieldBaseSalary:
		v = in.BaseSalary
	default:
		return money.Zero, field, fmt.Errorf("unknown base field %q", field)
	}
	if v == nil {
		return money.Zero, field, fmt.Errorf("%s is required for a %s rule", field, in.Rule.CalculationType)
	}
	return *v, field, nil
}

func (c *Calculator) percentage(in Input, res *Result) error {
	rate := in.Rule.PercentageRate
	if rate.IsNegative() {
		return fmt.Errorf("percentage rate cannot be negative")
	}
	base, field, err := baseValue(in)
	if err != nil {
		return err
	}
	res.Breakdown = append(res.Breakdown, BreakdownItem{
		Component: "percentage",
		Detail:    fmt.Sprintf("%s x %s", base, field),
		Amount:    base.Mul(rate),
	})
	return nil
}

func (c *Calculator) hourly(in Input, res *Result) error {
	rule := in.Rule
	if rule.HourlyRate.IsNegative() {
		return fmt.Errorf("hourly rate cannot be negative")
	}
	hours := rule.HoursPerPeriod
	if in.HoursWorked != nil {
		hours = *in.HoursWorked
	}
	if hours.IsNegative() {
		return fmt.Errorf("hours worked cannot be negative")
	}
	res.Breakdown = append(res.Breakdown, BreakdownItem{
		Component: "regular_hours",
		Detail:    fmt.Sprintf("%s h x %s", hours.String(), rule.HourlyRate),
		Amount:    rule.HourlyRate.Mul(hours),
	})

	if rule.OvertimeRate != nil && in.OvertimeHours != nil && !in.OvertimeHours.IsZero() {
		if rule.OvertimeRate.IsNegative() || in.OvertimeHours.IsNegative() {
			return fmt.Errorf("overtime rate and hours cannot be negative")
		}
		res.Breakdown = append(res.Breakdown, BreakdownItem{
			Component: "overtime_hours",
			Detail:    fmt.Sprintf("%s h x %s", in.OvertimeHours.String(), *rule.OvertimeRate),
			Amount:    rule.OvertimeRate.Mul(*in.OvertimeHours),
		})
	}
	return nil
}

// tiered charges each bracket's rate on the part of the base inside
// [Min, Max), plus the bracket's flat amount when the base reaches Min.
func (c *Calculator) tiered(in Input, res *Result) error {
	if len(in.Rule.Tiers) == 0 {
		return fmt.Errorf("tiered rule has no tiers")
	}
	base, _, err := baseValue(in)
	if err != nil {
		return err
	}

	tiers := make([]domain.Tier, len(in.Rule.Tiers))
	copy(tiers, in.Rule.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Min.LessThan(tiers[j].Min) })

	for i, tier := range tiers {
		if tier.Rate.IsNegative() || tier.FlatAmount.IsNegative() {
			return fmt.Errorf("tier %d has a negative rate or amount", i+1)
		}
		if tier.Max != nil && !tier.Max.GreaterThan(tier.Min) {
			return fmt.Errorf("tier %d max must exceed its min", i+1)
		}
		if base.LessThan(tier.Min) {
			break
		}

		upper := base
		if tier.Max != nil {
			upper = money.Min(base, *tier.Max)
		}
		portion := upper.Sub(tier.Min)
		amount := portion.Mul(tier.Rate).Add(tier.FlatAmount)

		bounds := fmt.Sprintf("%s+", tier.Min)
		if tier.Max != nil {
			bounds = fmt.Sprintf("%s-%s", tier.Min, *tier.Max)
		}
		res.Breakdown = append(res.Breakdown, BreakdownItem{
			Component: fmt.Sprintf("tier_%d", i+1),
			Detail:    fmt.Sprintf("%s on %s", tier.Rate.String(), bounds),
			Amount:    amount,
		})
	}
	return nil
}

func (c *Calculator) formula(in Input, res *Result) error {
	rule := in.Rule
	vars := map[string]decimal.Decimal{
		"hourly_rate":     rule.HourlyRate.Decimal(),
		"percentage_rate": rule.PercentageRate,
		"flat_amount":     rule.FlatAmount.Decimal(),
		"hours_worked":    rule.HoursPerPeriod,
		"overtime_hours":  decimal.Zero,
	}
	if in.GrossWages != nil {
		vars["gross_wages"] = in.GrossWages.Decimal()
	}
	if in.BaseSalary != nil {
		vars["base_salary"] = in.BaseSalary.Decimal()
	}
	if in.HoursWorked != nil {
		vars["hours_worked"] = *in.HoursWorked
	}
	if in.OvertimeHours != nil {
		vars["overtime_hours"] = *in.OvertimeHours
	}

	value, err := EvaluateFormula(rule.Formula, vars)
	if err != nil {
		return err
	}
	res.Breakdown = append(res.Breakdown, BreakdownItem{
		Component: "custom_formula",
		Detail:    rule.Formula,
		Amount:    money.New(value),
	})
	return nil
}

type BatchSummary struct {
	TotalAmount       money.Money                            `json:"total_amount"`
	AverageAmount     money.Money                            `json:"average_amount"`
	ByCalculationType map[domain.CalculationType]money.Money `json:"by_calculation_type"`
}

type BatchResult struct {
	TotalProcessed int          `json:"total_processed"`
	Successful     int          `json:"successful"`
	Failed         int          `json:"failed"`
	Results        []*Result    `json:"results"`
	Summary        BatchSummary `json:"summary"`
}

// BatchCalculate prices inputs on a bounded worker pool. Results keep input
// order and a failed input never affects the others.
func (c *Calculator) BatchCalculate(ctx context.Context, inputs []Input) (*BatchResult, error) {
	results := make([]*Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.CalculateMemberDues(inputs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := &BatchResult{
		TotalProcessed: len(inputs),
		Results:        results,
		Summary: BatchSummary{
			ByCalculationType: map[domain.CalculationType]money.Money{},
		},
	}
	for _, r := range results {
		if !r.OK() {
			batch.Failed++
			continue
		}
		batch.Successful++
		batch.Summary.TotalAmount = batch.Summary.TotalAmount.Add(r.TotalAmount)
		batch.Summary.ByCalculationType[r.CalculationType] = batch.Summary.ByCalculationType[r.CalculationType].Add(r.TotalAmount)
	}
	if batch.Successful > 0 {
		avg := batch.Summary.TotalAmount.Decimal().Div(decimal.NewFromInt(int64(batch.Successful)))
		batch.Summary.AverageAmount = money.New(avg).Round()
	}

	c.logger.Info(ctx, "Batch dues calculation completed",
		"processed", batch.TotalProcessed,
		"successful", batch.Successful,
		"failed", batch.Failed,
		"total", batch.Summary.TotalAmount.String(),
	)

	return batch, nil
}
