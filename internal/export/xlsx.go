// Package export writes job results to local spreadsheet files.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/service"
	"github.com/xuri/excelize/v2"
)

var _ service.ResultExporter = (*XLSXWriter)(nil)

// Sheet names in the workbook.
const (
	SheetSummary      = "Summary"
	SheetTransactions = "Transactions"
	SheetCosts        = "Costs"
)

const (
	amountFormat = "£#,##0.00;-£#,##0.00"
	unavailable  = "unavailable"
)

// ErrEmptyPath is returned when no output path is configured.
var ErrEmptyPath = errors.New("output path cannot be empty")

// XLSXWriter exports results to an Excel workbook.
type XLSXWriter struct {
	now      func() time.Time
	logger   *slog.Logger
	linkBase *url.URL
	path     string
}

// Option configures an XLSXWriter.
type Option func(*XLSXWriter)

// WithLinkBase resolves signed download links against base.
func WithLinkBase(base *url.URL) Option {
	return func(w *XLSXWriter) {
		w.linkBase = base
	}
}

// WithLogger sets the writer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *XLSXWriter) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the time used to decide whether links have expired.
func WithClock(now func() time.Time) Option {
	return func(w *XLSXWriter) {
		w.now = now
	}
}

// NewXLSXWriter creates a writer that saves workbooks to path. An empty
// path is rejected; use NewStreamWriter when only Write is needed.
func NewXLSXWriter(path string, opts ...Option) (*XLSXWriter, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	return newWriter(path, opts...), nil
}

// NewStreamWriter creates a writer for Write only. Export fails with
// ErrEmptyPath.
func NewStreamWriter(opts ...Option) *XLSXWriter {
	return newWriter("", opts...)
}

func newWriter(path string, opts ...Option) *XLSXWriter {
	w := &XLSXWriter{
		path:   path,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the output file path.
func (w *XLSXWriter) Path() string {
	return w.path
}

// Export writes results to the workbook, replacing any existing file.
func (w *XLSXWriter) Export(ctx context.Context, results model.Results) error {
	if w.path == "" {
		return ErrEmptyPath
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := w.build(results)
	if err != nil {
		return err
	}
	defer w.close(f)

	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}

	w.logger.Info("exported results", "job_id", results.JobID, "path", w.path)
	return nil
}

// Write streams the workbook for results to out without touching the
// configured path.
func (w *XLSXWriter) Write(ctx context.Context, out io.Writer, results model.Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := w.build(results)
	if err != nil {
		return err
	}
	defer w.close(f)

	if err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (w *XLSXWriter) close(f *excelize.File) {
	if err := f.Close(); err != nil {
		w.logger.Warn("failed to close workbook", "error", err)
	}
}

func (w *XLSXWriter) build(results model.Results) (*excelize.File, error) {
	f := excelize.NewFile()

	amount, err := f.NewStyle(&excelize.Style{CustomNumFmt: ptr(amountFormat)})
	if err != nil {
		w.close(f)
		return nil, fmt.Errorf("failed to create amount style: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		w.close(f)
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// The default sheet becomes the summary.
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		w.close(f)
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetTransactions, SheetCosts} {
		if _, err := f.NewSheet(name); err != nil {
			w.close(f)
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	b := &sheetBuilder{f: f, amount: amount, header: header}
	w.writeSummary(b, results)
	writeTransactions(b, results)
	writeCosts(b, results)
	if b.err != nil {
		w.close(f)
		return nil, fmt.Errorf("failed to fill workbook: %w", b.err)
	}
	return f, nil
}

// sheetBuilder appends rows to a sheet and keeps the first error.
type sheetBuilder struct {
	err    error
	f      *excelize.File
	sheet  string
	row    int
	amount int
	header int
}

func (b *sheetBuilder) start(sheet string) {
	b.sheet = sheet
	b.row = 0
}

// add writes values on the next row. Columns listed in amountCols get the
// currency format.
func (b *sheetBuilder) add(values []any, amountCols ...int) {
	if b.err != nil {
		return
	}
	b.row++
	cell, err := excelize.CoordinatesToCellName(1, b.row)
	if err != nil {
		b.err = err
		return
	}
	if err := b.f.SetSheetRow(b.sheet, cell, &values); err != nil {
		b.err = err
		return
	}
	for _, col := range amountCols {
		ref, err := excelize.CoordinatesToCellName(col, b.row)
		if err != nil {
			b.err = err
			return
		}
		if err := b.f.SetCellStyle(b.sheet, ref, ref, b.amount); err != nil {
			b.err = err
			return
		}
	}
}

func (b *sheetBuilder) addHeader(values ...any) {
	b.add(values)
	if b.err != nil {
		return
	}
	first, _ := excelize.CoordinatesToCellName(1, b.row)
	last, _ := excelize.CoordinatesToCellName(len(values), b.row)
	b.err = b.f.SetCellStyle(b.sheet, first, last, b.header)
}

func (b *sheetBuilder) blank() {
	b.row++
}

func (w *XLSXWriter) writeSummary(b *sheetBuilder, results model.Results) {
	b.start(SheetSummary)
	b.add([]any{"Job", results.JobID})
	b.blank()

	if s := results.Summary; s != nil {
		b.addHeader("Income", "Expenses", "Net")
		b.add([]any{s.Totals.Income.InexactFloat64(), s.Totals.Expenses.InexactFloat64(), s.Totals.Net.InexactFloat64()}, 1, 2, 3)
		b.blank()

		b.addHeader("Category", "Count", "Total")
		for _, c := range s.Categories {
			b.add([]any{c.Name, c.Count, c.Total.InexactFloat64()}, 3)
		}

		if len(s.Recurring) > 0 {
			b.blank()
			b.addHeader("Merchant", "Cadence", "Count", "Average")
			for _, r := range s.Recurring {
				b.add([]any{r.Merchant, r.Cadence, r.Count, r.AvgAmount.InexactFloat64()}, 4)
			}
		}
	} else {
		b.add([]any{"Totals", unavailable})
	}

	b.blank()
	b.addHeader("Download", "URL")
	now := w.now()
	for _, kind := range []model.LinkKind{model.LinkSummary, model.LinkReport} {
		b.add([]any{string(kind), w.linkCell(results.Link(kind), now)})
	}
}

func (w *XLSXWriter) linkCell(link *model.DownloadLink, now time.Time) string {
	switch {
	case link == nil:
		return unavailable
	case !link.Renderable(now):
		return "expired"
	}
	target, err := link.Absolute(w.linkBase)
	if err != nil {
		return unavailable
	}
	return target
}

func writeTransactions(b *sheetBuilder, results model.Results) {
	b.start(SheetTransactions)
	if !results.HasTransactions {
		b.add([]any{unavailable})
		return
	}
	b.addHeader("Date", "Description", "Amount", "Type", "Category", "Label")
	for _, txn := range results.Transactions {
		b.add([]any{
			txn.Date,
			txn.Description,
			txn.Amount.InexactFloat64(),
			string(txn.Type),
			txn.Category,
			txn.Label,
		}, 3)
	}
}

func writeCosts(b *sheetBuilder, results model.Results) {
	b.start(SheetCosts)
	c := results.Costs
	if c == nil {
		b.add([]any{unavailable})
		return
	}
	b.addHeader("Tokens in", "Tokens out", "Total tokens", "Estimated cost (GBP)")
	b.add([]any{c.TokensIn, c.TokensOut, c.TotalTokens, c.EstimatedCost.String()})
}

func ptr[T any](v T) *T {
	return &v
}
