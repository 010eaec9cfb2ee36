package mockserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/shopspring/decimal"
)

// ErrEmptyBatch is returned when an upload holds no transactions.
var ErrEmptyBatch = errors.New("batch contains no transactions")

const dateLayout = "2006-01-02"

var costPerToken = decimal.RequireFromString("0.000002")

// analysis is the classified output of one job.
type analysis struct {
	summary      model.Summary
	transactions []model.Transaction
	costs        model.CostAccounting
}

// parseBatch reads one JSON transaction per line. Blank lines are skipped.
func parseBatch(content []byte) ([]model.Transaction, error) {
	var txns []model.Transaction
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var txn model.Transaction
		if err := json.Unmarshal(raw, &txn); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(txn.Description) == "" {
			return nil, fmt.Errorf("line %d: description is required", line)
		}
		if txn.Type == "" {
			txn.Type = model.TypeDebit
			if txn.Amount.IsPositive() {
				txn.Type = model.TypeCredit
			}
		}
		txns = append(txns, txn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	if len(txns) == 0 {
		return nil, ErrEmptyBatch
	}
	return txns, nil
}

// categorize assigns each transaction the label of the first matching rule.
// Rules are tried by descending priority.
func categorize(txns []model.Transaction, rules []model.Rule) []model.Transaction {
	ordered := make([]model.Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	out := make([]model.Transaction, len(txns))
	for i, txn := range txns {
		txn.Category = ""
		for _, rule := range ordered {
			ok, err := ruleMatches(rule, txn)
			if err != nil {
				slog.Warn("Skipping rule with invalid pattern", "rule_id", rule.RuleID(), "error", err)
				continue
			}
			if ok {
				txn.Category = rule.Label
				break
			}
		}
		if txn.Category == "" {
			txn.Category = "Uncategorised"
			if txn.Type == model.TypeCredit {
				txn.Category = "Income"
			}
		}
		out[i] = txn
	}
	return out
}

func ruleMatches(rule model.Rule, txn model.Transaction) (bool, error) {
	switch rule.MatchType {
	case "contains":
		return strings.Contains(strings.ToUpper(txn.Description), strings.ToUpper(rule.Pattern)), nil
	case "exact":
		return strings.EqualFold(strings.TrimSpace(txn.Description), rule.Pattern), nil
	default:
		return common.MatchRegex("(?i)"+rule.Pattern, txn.Description)
	}
}

func summarize(txns []model.Transaction) model.Summary {
	var totals model.Totals
	byCategory := make(map[string]*model.CategoryBreakdown)
	var names []string

	for _, txn := range txns {
		if txn.Amount.IsPositive() {
			totals.Income = totals.Income.Add(txn.Amount)
		} else {
			totals.Expenses = totals.Expenses.Add(txn.Amount)
		}

		c, ok := byCategory[txn.Category]
		if !ok {
			c = &model.CategoryBreakdown{Name: txn.Category}
			byCategory[txn.Category] = c
			names = append(names, txn.Category)
		}
		c.Count++
		c.Total = c.Total.Add(txn.Amount)
	}
	totals.Net = totals.Income.Add(totals.Expenses)

	sort.Strings(names)
	categories := make([]model.CategoryBreakdown, 0, len(names))
	for _, name := range names {
		categories = append(categories, *byCategory[name])
	}

	return model.Summary{
		Totals:     totals,
		Categories: categories,
		Recurring:  recurring(txns),
	}
}

// recurring reports debits that repeat under the same description.
func recurring(txns []model.Transaction) []model.RecurringCharge {
	type group struct {
		merchant string
		dates    []time.Time
		total    decimal.Decimal
		count    int
	}
	groups := make(map[string]*group)
	var keys []string

	for _, txn := range txns {
		if txn.Type != model.TypeDebit {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(txn.Description))
		g, ok := groups[key]
		if !ok {
			g = &group{merchant: strings.TrimSpace(txn.Description)}
			groups[key] = g
			keys = append(keys, key)
		}
		g.count++
		g.total = g.total.Add(txn.Amount)
		if d, err := time.Parse(dateLayout, txn.Date); err == nil {
			g.dates = append(g.dates, d)
		}
	}

	sort.Strings(keys)
	var out []model.RecurringCharge
	for _, key := range keys {
		g := groups[key]
		if g.count < 2 {
			continue
		}
		out = append(out, model.RecurringCharge{
			Merchant:  g.merchant,
			Cadence:   cadence(g.dates),
			Count:     g.count,
			AvgAmount: g.total.Div(decimal.NewFromInt(int64(g.count))).Round(2),
		})
	}
	return out
}

func cadence(dates []time.Time) string {
	if len(dates) < 2 {
		return "irregular"
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	span := dates[len(dates)-1].Sub(dates[0])
	gap := span / time.Duration(len(dates)-1)

	const day = 24 * time.Hour
	switch {
	case gap <= 10*day:
		return "weekly"
	case gap <= 45*day:
		return "monthly"
	default:
		return "irregular"
	}
}

// estimateCosts approximates token usage at four bytes per input token.
func estimateCosts(content []byte, txns []model.Transaction) model.CostAccounting {
	in := int64((len(content) + 3) / 4)
	out := int64(12 * len(txns))
	total := in + out
	return model.CostAccounting{
		TokensIn:      in,
		TokensOut:     out,
		TotalTokens:   total,
		EstimatedCost: decimal.NewFromInt(total).Mul(costPerToken).Round(6),
	}
}

func analyze(content []byte, rules []model.Rule) (*analysis, error) {
	txns, err := parseBatch(content)
	if err != nil {
		return nil, err
	}
	txns = categorize(txns, rules)
	return &analysis{
		transactions: txns,
		summary:      summarize(txns),
		costs:        estimateCosts(content, txns),
	}, nil
}
