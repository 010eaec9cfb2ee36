package model

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus(t *testing.T) {
	tests := []struct {
		status   JobStatus
		valid    bool
		terminal bool
	}{
		{StatusUploaded, true, false},
		{StatusProcessing, true, false},
		{StatusCompleted, true, true},
		{StatusFailed, true, true},
		{JobStatus("queued"), false, false},
		{JobStatus(""), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestParseJobStatus(t *testing.T) {
	s, err := ParseJobStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s)

	_, err = ParseJobStatus("COMPLETED")
	assert.Error(t, err)
}

func TestSummary_DecodeKeepsNumbersVerbatim(t *testing.T) {
	raw := `{
		"totals": {"income": 100, "expenses": 50, "net": 50},
		"categories": [{"name": "Groceries", "total": 42.10, "count": 3}],
		"recurring": [{"merchant": "Netflix", "cadence": "monthly", "avg_amount": 9.99, "count": 12}]
	}`

	var s Summary
	require.NoError(t, json.Unmarshal([]byte(raw), &s))

	assert.Equal(t, "100", s.Totals.Income.String())
	assert.Equal(t, "50", s.Totals.Expenses.String())
	assert.Equal(t, "50", s.Totals.Net.String())
	require.Len(t, s.Categories, 1)
	assert.Equal(t, "42.1", s.Categories[0].Total.String())
	require.Len(t, s.Recurring, 1)
	assert.Equal(t, "9.99", s.Recurring[0].AvgAmount.String())
}

func TestCostAccounting_Decode(t *testing.T) {
	raw := `{"tokens_in": 1, "tokens_out": 2, "total_tokens": 3, "estimated_cost_gbp": 0.01}`

	var c CostAccounting
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, int64(1), c.TokensIn)
	assert.Equal(t, int64(2), c.TokensOut)
	assert.Equal(t, int64(3), c.TotalTokens)
	assert.Equal(t, "0.01", c.EstimatedCost.String())
}

func TestNewDownloadLink(t *testing.T) {
	t.Run("keeps the signed url verbatim", func(t *testing.T) {
		link, err := NewDownloadLink(LinkReport, "/download/123/report?sig=r123")
		require.NoError(t, err)
		assert.Equal(t, "/download/123/report?sig=r123", link.URL)
		assert.Equal(t, LinkReport, link.Kind)
		assert.True(t, link.Expires.IsZero())
		assert.True(t, link.Renderable(time.Now()))
	})

	t.Run("reads expiry", func(t *testing.T) {
		link, err := NewDownloadLink(LinkSummary, "/download/1/summary?expires=1700000000&signature=abc")
		require.NoError(t, err)
		assert.Equal(t, time.Unix(1700000000, 0), link.Expires)
		assert.True(t, link.Renderable(time.Unix(1699999999, 0)))
		assert.False(t, link.Renderable(time.Unix(1700000001, 0)))
	})

	t.Run("empty url", func(t *testing.T) {
		_, err := NewDownloadLink(LinkSummary, "  ")
		assert.ErrorIs(t, err, ErrEmptyLink)
	})

	t.Run("bad expiry", func(t *testing.T) {
		_, err := NewDownloadLink(LinkSummary, "/x?expires=soon")
		assert.Error(t, err)
	})

	t.Run("zero link is not renderable", func(t *testing.T) {
		assert.False(t, DownloadLink{}.Renderable(time.Now()))
	})
}

func TestDownloadLink_Absolute(t *testing.T) {
	base, err := url.Parse("http://api.example.com:8000/")
	require.NoError(t, err)

	link, err := NewDownloadLink(LinkReport, "/download/123/report?sig=r123")
	require.NoError(t, err)

	abs, err := link.Absolute(base)
	require.NoError(t, err)
	assert.Equal(t, "http://api.example.com:8000/download/123/report?sig=r123", abs)
}

func TestResults_Resolved(t *testing.T) {
	var r Results
	for _, slot := range AllSlots {
		assert.False(t, r.Resolved(slot), slot)
	}

	r.Summary = &Summary{}
	r.HasTransactions = true
	assert.True(t, r.Resolved(SlotSummary))
	assert.True(t, r.Resolved(SlotTransactions))
	assert.False(t, r.Resolved(SlotCosts))
	assert.Nil(t, r.Link(LinkReport))
}

func TestRule_Decode(t *testing.T) {
	raw := `[{"id": 1, "label": "Food", "pattern": "Tesco", "match_type": "contains",
		"field": "description", "priority": 1, "confidence": 1, "version": 1,
		"provenance": "test", "updated_at": "now"}]`

	var rules []Rule
	require.NoError(t, json.Unmarshal([]byte(raw), &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, int64(1), rules[0].RuleID())
	assert.Equal(t, "now", rules[0].UpdatedAt)
	assert.Equal(t, int64(0), Rule{}.RuleID())
}

func TestRoute_Path(t *testing.T) {
	assert.Equal(t, "/results/123", Route{Kind: RouteResults, JobID: "123"}.Path())
	assert.Equal(t, "/progress/abc", Route{Kind: RouteProgress, JobID: "abc"}.Path())
}
