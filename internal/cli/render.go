package cli

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
)

// RenderOptions controls how results are printed.
type RenderOptions struct {
	Now      time.Time
	Base     *url.URL
	Failures map[model.Slot]error
	// MaxTransactions caps the transaction table. Zero shows every row.
	MaxTransactions int
}

// FormatGBP renders an amount in pounds with two decimals.
func FormatGBP(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-£" + d.Abs().StringFixed(2)
	}
	return "£" + d.StringFixed(2)
}

// RenderResults writes every slot of results to w. Slots that have not
// resolved are shown as unavailable; links are only shown while renderable.
func RenderResults(w io.Writer, results model.Results, opts RenderOptions) error {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	sections := []string{
		FormatTitle("Results for job " + results.JobID),
		renderSummary(results, opts),
		renderCosts(results, opts),
		renderLinks(results, opts),
		renderTransactions(results, opts),
	}

	_, err := fmt.Fprintln(w, strings.Join(sections, "\n\n"))
	return err
}

func unavailable(slot model.Slot, opts RenderOptions) string {
	msg := "unavailable"
	if err, ok := opts.Failures[slot]; ok && err != nil {
		msg += ": " + err.Error()
	}
	return SubtleStyle.Render(msg)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(SubtleStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			if col > 0 {
				return AmountCellStyle
			}
			return TableCellStyle
		})
}

func renderSummary(results model.Results, opts RenderOptions) string {
	title := BoldStyle.Render(ChartIcon + " Summary")
	s := results.Summary
	if s == nil {
		return title + "\n" + unavailable(model.SlotSummary, opts)
	}

	totals := newTable("Income", "Expenses", "Net").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return AmountCellStyle
		}).
		Row(FormatGBP(s.Totals.Income), FormatGBP(s.Totals.Expenses), FormatGBP(s.Totals.Net))

	parts := []string{title, totals.String()}

	if len(s.Categories) > 0 {
		cats := newTable("Category", "Count", "Total")
		for _, c := range s.Categories {
			cats.Row(c.Name, strconv.Itoa(c.Count), FormatGBP(c.Total))
		}
		parts = append(parts, cats.String())
	}

	if len(s.Recurring) > 0 {
		rec := newTable("Merchant", "Cadence", "Count", "Average")
		for _, r := range s.Recurring {
			rec.Row(r.Merchant, r.Cadence, strconv.Itoa(r.Count), FormatGBP(r.AvgAmount))
		}
		parts = append(parts, BoldStyle.Render("Recurring charges"), rec.String())
	}

	return strings.Join(parts, "\n")
}

func renderCosts(results model.Results, opts RenderOptions) string {
	title := BoldStyle.Render("Costs")
	c := results.Costs
	if c == nil {
		return title + "\n" + unavailable(model.SlotCosts, opts)
	}

	t := newTable("Tokens in", "Tokens out", "Total tokens", "Estimated cost").
		Row(
			strconv.FormatInt(c.TokensIn, 10),
			strconv.FormatInt(c.TokensOut, 10),
			strconv.FormatInt(c.TotalTokens, 10),
			"£"+c.EstimatedCost.StringFixed(4),
		)
	return title + "\n" + t.String()
}

func renderLinks(results model.Results, opts RenderOptions) string {
	lines := []string{BoldStyle.Render(LinkIcon + " Downloads")}

	for _, kind := range []model.LinkKind{model.LinkSummary, model.LinkReport} {
		slot := model.SlotSummaryLink
		if kind == model.LinkReport {
			slot = model.SlotReportLink
		}
		label := fmt.Sprintf("  %-8s ", kind)

		link := results.Link(kind)
		switch {
		case link == nil:
			lines = append(lines, label+unavailable(slot, opts))
		case !link.Renderable(opts.Now):
			lines = append(lines, label+SubtleStyle.Render("expired"))
		default:
			target, err := link.Absolute(opts.Base)
			if err != nil {
				lines = append(lines, label+ErrorStyle.Render(err.Error()))
				continue
			}
			line := label + LinkStyle.Render(target)
			if !link.Expires.IsZero() {
				line += SubtleStyle.Render(fmt.Sprintf(" (expires in %s)", link.Expires.Sub(opts.Now).Round(time.Second)))
			}
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n")
}

func renderTransactions(results model.Results, opts RenderOptions) string {
	title := BoldStyle.Render("Transactions")
	if !results.HasTransactions {
		return title + "\n" + unavailable(model.SlotTransactions, opts)
	}
	if len(results.Transactions) == 0 {
		return title + "\n" + SubtleStyle.Render("none")
	}

	shown := results.Transactions
	if opts.MaxTransactions > 0 && len(shown) > opts.MaxTransactions {
		shown = shown[:opts.MaxTransactions]
	}

	t := newTable("Date", "Description", "Amount", "Category").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			if col == 2 {
				return AmountCellStyle
			}
			return TableCellStyle
		})
	for _, txn := range shown {
		category := txn.Category
		if txn.Label != "" {
			category += " (" + txn.Label + ")"
		}
		t.Row(txn.Date, txn.Description, FormatGBP(txn.Amount), category)
	}

	out := title + "\n" + t.String()
	if hidden := len(results.Transactions) - len(shown); hidden > 0 {
		out += "\n" + SubtleStyle.Render(fmt.Sprintf("… and %d more", hidden))
	}
	return out
}
