package testutil

import (
	"strconv"
	"time"

	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/shopspring/decimal"
)

// SampleResults returns a fully resolved result set for jobID. Links expire
// an hour from now.
func SampleResults(jobID string) model.Results {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	summaryLink := model.DownloadLink{
		Kind:    model.LinkSummary,
		URL:     "/download/" + jobID + "/summary?expires=" + strconv.FormatInt(expires.Unix(), 10) + "&signature=s",
		Expires: expires,
	}
	reportLink := model.DownloadLink{
		Kind:    model.LinkReport,
		URL:     "/download/" + jobID + "/report?expires=" + strconv.FormatInt(expires.Unix(), 10) + "&signature=r",
		Expires: expires,
	}

	return model.Results{
		JobID: jobID,
		Summary: &model.Summary{
			Totals: model.Totals{
				Income:   decimal.RequireFromString("2500.00"),
				Expenses: decimal.RequireFromString("-842.17"),
				Net:      decimal.RequireFromString("1657.83"),
			},
			Categories: []model.CategoryBreakdown{
				{Name: "Groceries", Total: decimal.RequireFromString("-312.40"), Count: 9},
				{Name: "Subscriptions", Total: decimal.RequireFromString("-29.77"), Count: 3},
			},
			Recurring: []model.RecurringCharge{
				{Merchant: "Netflix", Cadence: "monthly", AvgAmount: decimal.RequireFromString("-10.99"), Count: 3},
			},
		},
		Transactions: []model.Transaction{
			{Date: "2024-03-01", Description: "ACME PAYROLL", Amount: decimal.RequireFromString("2500.00"), Type: model.TypeCredit, Category: "Income"},
			{Date: "2024-03-02", Description: "TESCO STORES", Amount: decimal.RequireFromString("-42.10"), Type: model.TypeDebit, Category: "Groceries", Label: "Food"},
		},
		HasTransactions: true,
		Costs: &model.CostAccounting{
			TokensIn:      1200,
			TokensOut:     300,
			TotalTokens:   1500,
			EstimatedCost: decimal.RequireFromString("0.0042"),
		},
		SummaryLink: &summaryLink,
		ReportLink:  &reportLink,
	}
}
