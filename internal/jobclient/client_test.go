package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "http", baseURL: "http://localhost:8000"},
		{name: "https with path", baseURL: "https://example.com/api"},
		{name: "empty", baseURL: "", wantErr: true},
		{name: "bad scheme", baseURL: "ftp://example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.baseURL)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, '/', rune(c.BaseURL().Path[len(c.BaseURL().Path)-1]))
		})
	}
}

func TestClient_Upload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		content, err := io.ReadAll(file)
		require.NoError(t, err)

		assert.Equal(t, "statement.jsonl", header.Filename)
		assert.Equal(t, UploadContentType, header.Header.Get("Content-Type"))
		assert.Equal(t, `{"description":"Tesco"}`, string(content))
		assert.NotEmpty(t, r.Header.Get(RequestIDHeader))

		writeJSON(t, w, map[string]string{"job_id": "123"})
	})

	c := newTestClient(t, mux)
	id, err := c.Upload(context.Background(), model.Batch{
		Filename: "statement.jsonl",
		Content:  []byte(`{"description":"Tesco"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "123", id)
}

func TestClient_UploadWithoutJobID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]string{})
	}))

	_, err := c.Upload(context.Background(), model.Batch{Filename: "a.jsonl", Content: []byte("{}")})
	assert.True(t, common.IsTransport(err))
}

func TestClient_Classify(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/classify", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`["ignored"]`))
	}))

	require.NoError(t, c.Classify(context.Background(), "123"))
	assert.Equal(t, map[string]string{"job_id": "123"}, got)
}

func TestClient_Status(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		code       int
		want       model.JobStatus
		wantStatus int
		wantErr    bool
	}{
		{name: "uploaded", body: `{"status":"uploaded"}`, code: 200, want: model.StatusUploaded},
		{name: "failed is a status", body: `{"status":"failed"}`, code: 200, want: model.StatusFailed},
		{name: "unknown status", body: `{"status":"queued"}`, code: 200, wantErr: true},
		{name: "bad json", body: `not json`, code: 200, wantErr: true},
		{name: "server error", body: `boom`, code: 500, wantErr: true, wantStatus: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/status/job%2F1", r.URL.EscapedPath())
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))

			got, err := c.Status(context.Background(), "job/1")
			if tt.wantErr {
				require.Error(t, err)
				var te *common.TransportError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.wantStatus, te.StatusCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_ResultEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /summary/123", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"totals":{"income":100,"expenses":50,"net":50},"categories":[]}`))
	})
	mux.HandleFunc("GET /transactions/123", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"date":"2024-01-02","description":"B","amount":-5,"type":"debit"},
			{"date":"2024-01-01","description":"A","amount":10,"type":"credit","category":"Income"}
		]`))
	})
	mux.HandleFunc("GET /costs/123", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tokens_in":1,"tokens_out":2,"total_tokens":3,"estimated_cost_gbp":0.01}`))
	})
	mux.HandleFunc("GET /download/123/summary", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"url":"/download/123/summary?sig=s123"}`))
	})
	mux.HandleFunc("GET /report/123", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"url":"/download/123/report?sig=r123"}`))
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	summary, err := c.Summary(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, "100", summary.Totals.Income.String())
	assert.Equal(t, "50", summary.Totals.Net.String())

	txns, err := c.Transactions(ctx, "123")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "B", txns[0].Description, "server order is preserved")
	assert.Equal(t, model.TypeCredit, txns[1].Type)

	costs, err := c.Costs(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, int64(3), costs.TotalTokens)
	assert.Equal(t, "0.01", costs.EstimatedCost.String())

	summaryURL, err := c.SignedLink(ctx, "123", model.LinkSummary)
	require.NoError(t, err)
	assert.Equal(t, "/download/123/summary?sig=s123", summaryURL)

	reportURL, err := c.SignedLink(ctx, "123", model.LinkReport)
	require.NoError(t, err)
	assert.Equal(t, "/download/123/report?sig=r123", reportURL)

	_, err = c.SignedLink(ctx, "123", model.LinkKind("invoice"))
	assert.Error(t, err)
}

func TestClient_EmptyTransactionList(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`null`))
	}))

	txns, err := c.Transactions(context.Background(), "1")
	require.NoError(t, err)
	assert.NotNil(t, txns)
	assert.Empty(t, txns)
}

func TestClient_RulesAndFeedback(t *testing.T) {
	var feedback map[string]any
	var saved map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rules", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"label":"Food","pattern":"Tesco","match_type":"contains","field":"description","priority":1,"confidence":1,"version":1,"provenance":"test","updated_at":"now"}]`))
	})
	mux.HandleFunc("POST /feedback", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&feedback))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /heuristics", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&saved))
		_, _ = w.Write([]byte(`{"id":7,"label":"Coffee","pattern":"Pret","priority":0,"version":1,"confidence":0}`))
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	rules, err := c.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "Tesco", rules[0].Pattern)

	require.NoError(t, c.SubmitFeedback(ctx, model.FeedbackSuggestion{RuleID: 1, Suggestion: "Groceries"}))
	assert.Equal(t, map[string]any{"rule_id": float64(1), "suggestion": "Groceries"}, feedback)

	rule, err := c.SaveRule(ctx, model.Rule{Label: "Coffee", Pattern: "Pret"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rule.RuleID())
	assert.Equal(t, "Coffee", saved["label"])
}

func TestClient_Download(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/download/123/report", r.URL.Path)
		assert.Equal(t, "r123", r.URL.Query().Get("sig"))
		w.Header().Set("Content-Disposition", `inline; filename="report.pdf"`)
		_, _ = w.Write([]byte("pdf"))
	}))

	link, err := model.NewDownloadLink(model.LinkReport, "/download/123/report?sig=r123")
	require.NoError(t, err)

	var buf bytes.Buffer
	name, err := c.Download(context.Background(), link, &buf)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", name)
	assert.Equal(t, "pdf", buf.String())
}

func TestClient_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	c, err := New(baseURL, WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = c.Summary(context.Background(), "1")
	require.Error(t, err)
	var te *common.TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
	assert.Equal(t, "fetch summary", te.Op)
}
