package model

import "github.com/shopspring/decimal"

// Totals holds the headline figures for a job.
type Totals struct {
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Net      decimal.Decimal `json:"net"`
}

// CategoryBreakdown is one row of the per-category totals.
type CategoryBreakdown struct {
	Name  string          `json:"name"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// RecurringCharge is a merchant that charges on a regular cadence.
type RecurringCharge struct {
	Merchant  string          `json:"merchant"`
	Cadence   string          `json:"cadence"`
	AvgAmount decimal.Decimal `json:"avg_amount"`
	Count     int             `json:"count"`
}

// Summary is an immutable snapshot of a job's aggregate results.
type Summary struct {
	Categories []CategoryBreakdown `json:"categories"`
	Recurring  []RecurringCharge   `json:"recurring,omitempty"`
	Totals     Totals              `json:"totals"`
}
