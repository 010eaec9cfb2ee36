package sheets

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		errMsg  string
		config  Config
		wantErr bool
	}{
		{
			name: "valid oauth config",
			config: Config{
				ClientID:      "test-client",
				ClientSecret:  "test-secret",
				RefreshToken:  "test-token",
				BatchSize:     100,
				RetryAttempts: 3,
				RetryDelay:    time.Second,
			},
		},
		{
			name: "valid service account config",
			config: Config{
				ServiceAccountPath: "/path/to/key.json",
				BatchSize:          100,
			},
		},
		{
			name:    "missing auth",
			config:  Config{BatchSize: 100},
			wantErr: true,
			errMsg:  "no authentication method configured",
		},
		{
			name: "partial oauth credentials",
			config: Config{
				ClientID:     "test-client",
				RefreshToken: "test-token",
				BatchSize:    100,
			},
			wantErr: true,
			errMsg:  "no authentication method configured",
		},
		{
			name: "multiple auth methods",
			config: Config{
				ClientID:           "test-client",
				ClientSecret:       "test-secret",
				RefreshToken:       "test-token",
				ServiceAccountPath: "/path/to/key.json",
				BatchSize:          100,
			},
			wantErr: true,
			errMsg:  "multiple authentication methods",
		},
		{
			name:    "zero batch size",
			config:  Config{ServiceAccountPath: "/k.json"},
			wantErr: true,
			errMsg:  "batch size must be positive",
		},
		{
			name: "negative retry delay",
			config: Config{
				ServiceAccountPath: "/path/to/key.json",
				BatchSize:          100,
				RetryDelay:         -1 * time.Second,
			},
			wantErr: true,
			errMsg:  "retry delay cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultSpreadsheetName, cfg.SpreadsheetName)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.True(t, cfg.EnableFormatting)
}

// findRow returns the index of the first row whose first cell is label.
func findRow(values [][]any, label string) int {
	for i, row := range values {
		if len(row) > 0 && row[0] == label {
			return i
		}
	}
	return -1
}

func TestPrepareValues(t *testing.T) {
	results := testutil.SampleResults("123")
	base, err := url.Parse("http://localhost:8000/")
	require.NoError(t, err)

	values := prepareValues(results, base, time.Now())

	assert.Equal(t, []any{"Bank Statement Report", "Job 123"}, values[0])

	net := findRow(values, "Net")
	require.NotEqual(t, -1, net)
	assert.InDelta(t, 1657.83, values[net][1], 0.001)

	groceries := findRow(values, "Groceries")
	require.NotEqual(t, -1, groceries)
	assert.Equal(t, 9, values[groceries][1])

	report := findRow(values, "report")
	require.NotEqual(t, -1, report)
	assert.Contains(t, values[report][1], "http://localhost:8000/download/123/report?")

	header := findRow(values, "Date")
	require.NotEqual(t, -1, header)
	require.Len(t, values, header+3)
	assert.Equal(t, "ACME PAYROLL", values[header+1][1], "server order is preserved")
	assert.Equal(t, "TESCO STORES", values[header+2][1])
}

func TestPrepareValues_UnresolvedSlots(t *testing.T) {
	values := prepareValues(model.Results{JobID: "9"}, nil, time.Now())

	summary := findRow(values, "Summary")
	require.NotEqual(t, -1, summary)
	assert.Equal(t, []any{"unavailable"}, values[summary+1])

	assert.Equal(t, -1, findRow(values, "Net"))
	assert.Equal(t, []any{"report", "unavailable"}, values[findRow(values, "report")])
	assert.Equal(t, []any{"unavailable"}, values[len(values)-1])
}

func TestPrepareValues_ExpiredLinkIsNotWritten(t *testing.T) {
	results := testutil.SampleResults("123")
	later := results.ReportLink.Expires.Add(time.Minute)

	values := prepareValues(results, nil, later)
	assert.Equal(t, []any{"report", "unavailable"}, values[findRow(values, "report")])
}

func TestAPIError(t *testing.T) {
	assert.NoError(t, apiError("op", nil))

	plain := errors.New("boom")
	assert.Same(t, plain, apiError("op", plain))

	err := apiError("write values", &googleapi.Error{Code: http.StatusTooManyRequests, Message: "slow down"})
	var te *common.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.True(t, common.IsRetryable(err))
}
