package export

import (
	"bytes"
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func readRows(t *testing.T, path, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	return rows
}

func findRow(rows [][]string, first string) []string {
	for _, row := range rows {
		if len(row) > 0 && row[0] == first {
			return row
		}
	}
	return nil
}

func TestNewXLSXWriterRequiresPath(t *testing.T) {
	_, err := NewXLSXWriter("")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestExportFullResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "job.xlsx")
	base, err := url.Parse("http://example.test")
	require.NoError(t, err)

	w, err := NewXLSXWriter(path, WithLinkBase(base))
	require.NoError(t, err)
	require.NoError(t, w.Export(context.Background(), testutil.SampleResults("job-7")))

	summary := readRows(t, path, SheetSummary)
	assert.Equal(t, []string{"Job", "job-7"}, summary[0])
	assert.Equal(t, []string{"Income", "Expenses", "Net"}, findRow(summary, "Income"))
	assert.Equal(t, []string{"2500", "-842.17", "1657.83"}, summary[3])

	groceries := findRow(summary, "Groceries")
	require.NotNil(t, groceries)
	assert.Equal(t, "9", groceries[1])
	assert.Equal(t, "-312.4", groceries[2])

	assert.NotNil(t, findRow(summary, "Netflix"))

	link := findRow(summary, "summary")
	require.Len(t, link, 2)
	assert.Contains(t, link[1], "http://example.test/download/job-7/summary?expires=")

	txns := readRows(t, path, SheetTransactions)
	require.Len(t, txns, 3)
	assert.Equal(t, "ACME PAYROLL", txns[1][1])
	assert.Equal(t, "2500", txns[1][2])
	assert.Equal(t, "TESCO STORES", txns[2][1])
	assert.Equal(t, "Food", txns[2][5])

	costs := readRows(t, path, SheetCosts)
	require.Len(t, costs, 2)
	assert.Equal(t, []string{"1200", "300", "1500", "0.0042"}, costs[1])
}

func TestExportUnresolvedSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.xlsx")
	w, err := NewXLSXWriter(path)
	require.NoError(t, err)

	results := model.Results{JobID: "job-8"}
	require.NoError(t, w.Export(context.Background(), results))

	summary := readRows(t, path, SheetSummary)
	assert.Equal(t, []string{"Totals", "unavailable"}, findRow(summary, "Totals"))
	assert.Equal(t, []string{"report", "unavailable"}, findRow(summary, "report"))

	assert.Equal(t, [][]string{{"unavailable"}}, readRows(t, path, SheetTransactions))
	assert.Equal(t, [][]string{{"unavailable"}}, readRows(t, path, SheetCosts))
}

func TestExportExpiredLink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expired.xlsx")
	results := testutil.SampleResults("job-9")

	w, err := NewXLSXWriter(path, WithClock(func() time.Time {
		return time.Now().Add(2 * time.Hour)
	}))
	require.NoError(t, err)
	require.NoError(t, w.Export(context.Background(), results))

	summary := readRows(t, path, SheetSummary)
	assert.Equal(t, []string{"summary", "expired"}, findRow(summary, "summary"))
}

func TestExportCanceledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.xlsx")
	w, err := NewXLSXWriter(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Export(ctx, testutil.SampleResults("j")), context.Canceled)
	assert.NoFileExists(t, path)
}

func TestStreamWriter(t *testing.T) {
	w := NewStreamWriter()
	assert.ErrorIs(t, w.Export(context.Background(), testutil.SampleResults("j")), ErrEmptyPath)

	var buf bytes.Buffer
	require.NoError(t, w.Write(context.Background(), &buf, testutil.SampleResults("job-10")))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{SheetSummary, SheetTransactions, SheetCosts}, f.GetSheetList())
	net, err := f.GetCellValue(SheetSummary, "C4", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "1657.83", net)
}
