package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/service"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var _ service.ResultExporter = (*Writer)(nil)

// Writer exports results to Google Sheets.
type Writer struct {
	service  *sheets.Service
	logger   *slog.Logger
	linkBase *url.URL
	config   Config
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLinkBase resolves signed download links against base so the sheet
// holds absolute URLs.
func WithLinkBase(base *url.URL) WriterOption {
	return func(w *Writer) {
		w.linkBase = base
	}
}

// WithLogger sets the writer's logger.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter creates a new Google Sheets writer.
func NewWriter(ctx context.Context, config Config, opts ...WriterOption) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	w := &Writer{
		config:  config,
		service: srv,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Export writes results to the configured spreadsheet, replacing its contents.
func (w *Writer) Export(ctx context.Context, results model.Results) error {
	w.logger.Info("starting sheets export", "job_id", results.JobID)

	spreadsheetID, err := w.getOrCreateSpreadsheet(ctx)
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	if clearErr := w.clearSheet(ctx, spreadsheetID); clearErr != nil {
		return fmt.Errorf("failed to clear sheet: %w", clearErr)
	}

	values := prepareValues(results, w.linkBase, time.Now())

	retryOpts := service.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	err = common.WithRetry(ctx, func() error {
		return w.writeData(ctx, spreadsheetID, values)
	}, retryOpts)
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	if w.config.EnableFormatting {
		err = common.WithRetry(ctx, func() error {
			return w.applyFormatting(ctx, spreadsheetID, len(values))
		}, retryOpts)
		if err != nil {
			// Formatting is cosmetic.
			w.logger.Warn("failed to apply formatting", "error", err)
		}
	}

	w.logger.Info("sheets export completed",
		"job_id", results.JobID,
		"spreadsheet_id", spreadsheetID,
		"rows_written", len(values))

	return nil
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}

		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		client := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}

		token := &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}

		tokenSource = client.TokenSource(ctx, token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return srv, nil
}

func (w *Writer) getOrCreateSpreadsheet(ctx context.Context) (string, error) {
	if w.config.SpreadsheetID != "" {
		_, err := w.service.Spreadsheets.Get(w.config.SpreadsheetID).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("unable to access spreadsheet %s: %w", w.config.SpreadsheetID, apiError("get spreadsheet", err))
		}
		return w.config.SpreadsheetID, nil
	}

	name := w.config.SpreadsheetName
	if name == "" {
		name = DefaultSpreadsheetName
	}
	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    name,
			TimeZone: w.config.TimeZone,
		},
		Sheets: []*sheets.Sheet{
			{
				Properties: &sheets.SheetProperties{
					Title: "Results",
				},
			},
		},
	}

	created, err := w.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create spreadsheet: %w", apiError("create spreadsheet", err))
	}

	w.logger.Info("created new spreadsheet",
		"id", created.SpreadsheetId,
		"url", created.SpreadsheetUrl)

	return created.SpreadsheetId, nil
}

func (w *Writer) clearSheet(ctx context.Context, spreadsheetID string) error {
	_, err := w.service.Spreadsheets.Values.Clear(spreadsheetID, "A:Z", &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return apiError("clear sheet", err)
}

// prepareValues lays out every resolved slot as rows. Unresolved slots are
// noted rather than skipped so the sheet shows what is missing.
func prepareValues(results model.Results, linkBase *url.URL, now time.Time) [][]any {
	values := make([][]any, 0, 16+len(results.Transactions))

	values = append(values,
		[]any{"Bank Statement Report", "Job " + results.JobID},
		[]any{},
		[]any{"Summary"},
	)

	if s := results.Summary; s != nil {
		values = append(values,
			[]any{"Income", s.Totals.Income.InexactFloat64()},
			[]any{"Expenses", s.Totals.Expenses.InexactFloat64()},
			[]any{"Net", s.Totals.Net.InexactFloat64()},
			[]any{},
			[]any{"Category Breakdown"},
			[]any{"Category", "Count", "Amount"},
		)
		for _, c := range s.Categories {
			values = append(values, []any{c.Name, c.Count, c.Total.InexactFloat64()})
		}

		if len(s.Recurring) > 0 {
			values = append(values,
				[]any{},
				[]any{"Recurring Charges"},
				[]any{"Merchant", "Count", "Average", "Cadence"},
			)
			for _, r := range s.Recurring {
				values = append(values, []any{r.Merchant, r.Count, r.AvgAmount.InexactFloat64(), r.Cadence})
			}
		}
	} else {
		values = append(values, []any{"unavailable"})
	}

	values = append(values, []any{}, []any{"Costs"})
	if c := results.Costs; c != nil {
		values = append(values,
			[]any{"Tokens in", c.TokensIn},
			[]any{"Tokens out", c.TokensOut},
			[]any{"Total tokens", c.TotalTokens},
			[]any{"Estimated cost (GBP)", c.EstimatedCost.InexactFloat64()},
		)
	} else {
		values = append(values, []any{"unavailable"})
	}

	values = append(values, []any{}, []any{"Downloads"})
	for _, kind := range []model.LinkKind{model.LinkSummary, model.LinkReport} {
		link := results.Link(kind)
		if link == nil || !link.Renderable(now) {
			values = append(values, []any{string(kind), "unavailable"})
			continue
		}
		target, err := link.Absolute(linkBase)
		if err != nil {
			target = link.URL
		}
		values = append(values, []any{string(kind), target})
	}

	values = append(values,
		[]any{},
		[]any{"Transactions"},
		[]any{"Date", "Description", "Amount", "Type", "Category", "Label"},
	)
	if !results.HasTransactions {
		values = append(values, []any{"unavailable"})
		return values
	}
	// Server order is preserved.
	for _, t := range results.Transactions {
		values = append(values, []any{
			t.Date,
			t.Description,
			t.Amount.InexactFloat64(),
			string(t.Type),
			t.Category,
			t.Label,
		})
	}

	return values
}

func (w *Writer) writeData(ctx context.Context, spreadsheetID string, values [][]any) error {
	for i := 0; i < len(values); i += w.config.BatchSize {
		end := min(i+w.config.BatchSize, len(values))

		batch := values[i:end]
		valueRange := &sheets.ValueRange{
			Values: batch,
		}

		rangeStr := fmt.Sprintf("A%d", i+1)
		_, err := w.service.Spreadsheets.Values.Update(spreadsheetID, rangeStr, valueRange).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, apiError("write values", err))
		}

		w.logger.Debug("wrote batch", "start_row", i+1, "rows", len(batch))
	}

	return nil
}

func (w *Writer) applyFormatting(ctx context.Context, spreadsheetID string, totalRows int) error {
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   2,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold:     true,
							FontSize: 16,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    2,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 2,
					EndColumnIndex:   3,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						NumberFormat: &sheets.NumberFormat{
							Type:    "CURRENCY",
							Pattern: w.config.CurrencyPattern,
						},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    0,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   6,
				},
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: 0,
					GridProperties: &sheets.GridProperties{
						FrozenRowCount: 1,
					},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}

	batchUpdate := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}

	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, batchUpdate).Context(ctx).Do()
	return apiError("format sheet", err)
}

// apiError maps a Google API error onto a TransportError so WithRetry can
// tell retryable failures apart.
func apiError(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &common.TransportError{Op: op, StatusCode: gerr.Code, Body: gerr.Message, Err: err}
	}
	return err
}
