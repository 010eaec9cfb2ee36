package model

import (
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of money movement.
type TransactionType string

// Transaction type constants.
const (
	TypeDebit  TransactionType = "debit"
	TypeCredit TransactionType = "credit"
)

// Transaction is a single classified transaction as returned by the server.
// Slices of transactions keep the server's order.
type Transaction struct {
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Type        TransactionType `json:"type"`
	Category    string          `json:"category,omitempty"`
	Label       string          `json:"label,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// CostAccounting reports token usage and the estimated cost of a job.
type CostAccounting struct {
	EstimatedCost decimal.Decimal `json:"estimated_cost_gbp"`
	TokensIn      int64           `json:"tokens_in"`
	TokensOut     int64           `json:"tokens_out"`
	TotalTokens   int64           `json:"total_tokens"`
}
