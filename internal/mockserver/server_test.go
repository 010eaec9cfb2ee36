package mockserver

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/bankcleanr/internal/certs"
	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/jobclient"
	"github.com/Veraticus/bankcleanr/internal/lifecycle"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/poller"
	"github.com/Veraticus/bankcleanr/internal/results"
	"github.com/Veraticus/bankcleanr/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type harness struct {
	server *Server
	http   *httptest.Server
	client *jobclient.Client
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	if opts.SigningSecret == "" {
		opts.SigningSecret = "test-secret"
	}
	s := New(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	client, err := jobclient.New(ts.URL, jobclient.WithTimeout(5*time.Second))
	require.NoError(t, err)
	return &harness{server: s, http: ts, client: client}
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// completeJob uploads batch and polls until the job is terminal.
func (h *harness) completeJob(t *testing.T, batch string) (string, model.JobStatus) {
	t.Helper()
	ctx := context.Background()

	id, err := h.client.Upload(ctx, model.Batch{Filename: "march.jsonl", Content: []byte(batch)})
	require.NoError(t, err)
	require.NoError(t, h.client.Classify(ctx, id))

	p := poller.New(h.client, poller.WithInterval(5*time.Millisecond), poller.WithMaxWait(5*time.Second))
	status, err := p.PollUntil(ctx, id, poller.Terminal())
	require.NoError(t, err)
	return id, status
}

type routeLog struct {
	routes []model.Route
	mu     sync.Mutex
}

func (l *routeLog) Navigate(r model.Route) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes = append(l.routes, r)
}

func (l *routeLog) all() []model.Route {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Route(nil), l.routes...)
}

var _ service.Navigator = (*routeLog)(nil)

func TestEndToEndLifecycleAndResults(t *testing.T) {
	h := newHarness(t, Options{ProcessingPolls: 2, LinkTTL: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nav := &routeLog{}
	ctrl := lifecycle.NewController(h.client, nav,
		lifecycle.WithPoller(poller.New(h.client, poller.WithInterval(5*time.Millisecond))))
	defer ctrl.Dispose()

	jobID, err := ctrl.Submit(ctx, model.Batch{Filename: "march.jsonl", Content: []byte(sampleBatch)})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	final, err := ctrl.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.PhaseCompleted, final.Phase)
	assert.Equal(t, model.StatusCompleted, final.Status)
	assert.Equal(t, []model.Route{
		{Kind: model.RouteProgress, JobID: jobID},
		{Kind: model.RouteResults, JobID: jobID},
	}, nav.all())

	agg := results.NewAggregator(h.client, jobID)
	defer agg.Close()
	report := agg.Load(ctx)
	require.True(t, report.OK(), "failed slots: %v", report.Failed())

	snap := agg.Snapshot()
	require.NotNil(t, snap.Summary)
	assert.True(t, snap.Summary.Totals.Net.Equal(dec("2432.42")))
	assert.Len(t, snap.Transactions, 5)
	assert.Equal(t, "Groceries", snap.Transactions[1].Category)
	require.NotNil(t, snap.Costs)
	assert.Equal(t, int64(60), snap.Costs.TokensOut)

	require.NotNil(t, snap.SummaryLink)
	assert.True(t, snap.SummaryLink.Renderable(time.Now()))
	assert.WithinDuration(t, time.Now().Add(time.Minute), snap.SummaryLink.Expires, 5*time.Second)

	var summary bytes.Buffer
	name, err := h.client.Download(ctx, *snap.SummaryLink, &summary)
	require.NoError(t, err)
	assert.Equal(t, "summary-"+jobID+".json", name)
	assert.Contains(t, summary.String(), `"net":"2432.42"`)

	require.NotNil(t, snap.ReportLink)
	var report2 bytes.Buffer
	name, err = h.client.Download(ctx, *snap.ReportLink, &report2)
	require.NoError(t, err)
	assert.Equal(t, "report-"+jobID+".xlsx", name)

	wb, err := excelize.OpenReader(&report2)
	require.NoError(t, err)
	defer func() { _ = wb.Close() }()
	rows, err := wb.GetRows("Transactions")
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestEndToEndBusinessFailure(t *testing.T) {
	h := newHarness(t, Options{ProcessingPolls: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nav := &routeLog{}
	ctrl := lifecycle.NewController(h.client, nav,
		lifecycle.WithPoller(poller.New(h.client, poller.WithInterval(5*time.Millisecond))))
	defer ctrl.Dispose()

	jobID, err := ctrl.Submit(ctx, model.Batch{Filename: "bad.jsonl", Content: []byte("not json\n")})
	require.NoError(t, err)

	final, err := ctrl.Wait(ctx)
	require.ErrorIs(t, err, lifecycle.ErrJobFailed)
	assert.Equal(t, lifecycle.PhaseFailed, final.Phase)
	assert.Equal(t, "Classification failed for job "+jobID, final.Failure)
	assert.Equal(t, []model.Route{{Kind: model.RouteProgress, JobID: jobID}}, nav.all())
}

func TestStatusProgression(t *testing.T) {
	h := newHarness(t, Options{ProcessingPolls: 2})
	ctx := context.Background()

	id, err := h.client.Upload(ctx, model.Batch{Filename: "a.jsonl", Content: []byte(sampleBatch)})
	require.NoError(t, err)

	status, err := h.client.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploaded, status)

	require.NoError(t, h.client.Classify(ctx, id))
	for _, want := range []model.JobStatus{model.StatusProcessing, model.StatusCompleted, model.StatusCompleted} {
		status, err = h.client.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, status)
	}

	// Classifying again is a no-op.
	require.NoError(t, h.client.Classify(ctx, id))
	status, err = h.client.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, status)
}

func transportStatus(t *testing.T, err error) int {
	t.Helper()
	var te *common.TransportError
	require.True(t, errors.As(err, &te), "want TransportError, got %v", err)
	return te.StatusCode
}

func TestJobErrors(t *testing.T) {
	h := newHarness(t, Options{ProcessingPolls: 5})
	ctx := context.Background()

	_, err := h.client.Status(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, transportStatus(t, err))

	err = h.client.Classify(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, transportStatus(t, err))

	_, err = h.client.Upload(ctx, model.Batch{Filename: "empty.jsonl", Content: []byte("  \n")})
	assert.Equal(t, http.StatusBadRequest, transportStatus(t, err))

	id, err := h.client.Upload(ctx, model.Batch{Filename: "a.jsonl", Content: []byte(sampleBatch)})
	require.NoError(t, err)

	_, err = h.client.Summary(ctx, id)
	assert.Equal(t, http.StatusConflict, transportStatus(t, err))
	_, err = h.client.SignedLink(ctx, id, model.LinkReport)
	assert.Equal(t, http.StatusConflict, transportStatus(t, err))
}

func TestSignedDownloads(t *testing.T) {
	h := newHarness(t, Options{ProcessingPolls: 0})
	id, status := h.completeJob(t, sampleBatch)
	require.Equal(t, model.StatusCompleted, status)

	raw, err := h.client.SignedLink(context.Background(), id, model.LinkSummary)
	require.NoError(t, err)
	signed, err := url.Parse(raw)
	require.NoError(t, err)
	require.NotEmpty(t, signed.Query().Get("signature"))

	ok := h.get(t, signed.String())
	assert.Equal(t, http.StatusOK, ok.StatusCode)
	assert.Contains(t, ok.Header.Get("Content-Disposition"), "summary-"+id+".json")

	q := signed.Query()
	q.Set("signature", strings.Repeat("0", 64))
	tampered := h.get(t, signed.Path+"?"+q.Encode())
	assert.Equal(t, http.StatusForbidden, tampered.StatusCode)

	other := h.get(t, "/download/"+id+"/report?"+signed.RawQuery)
	assert.Equal(t, http.StatusForbidden, other.StatusCode)

	unsigned := h.get(t, "/download/"+id+"/report")
	assert.Equal(t, http.StatusForbidden, unsigned.StatusCode)

	h.server.signer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	expired := h.get(t, signed.String())
	assert.Equal(t, http.StatusForbidden, expired.StatusCode)
}

func TestRulesAndFeedback(t *testing.T) {
	h := newHarness(t, Options{Rules: []model.Rule{{Label: "Coffee", Pattern: "CAFE"}}})
	ctx := context.Background()

	rules, err := h.client.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, int64(1), rules[0].RuleID())
	assert.Equal(t, 1, rules[0].Version)
	assert.Equal(t, "description", rules[0].Field)

	saved, err := h.client.SaveRule(ctx, model.Rule{Label: " Books ", Pattern: "WATERSTONES"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.RuleID())
	assert.Equal(t, "Books", saved.Label)
	assert.Equal(t, "user", saved.Provenance)

	saved.Pattern = "WATERSTONES|FOYLES"
	updated, err := h.client.SaveRule(ctx, *saved)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	_, err = h.client.SaveRule(ctx, model.Rule{Label: "Bad", Pattern: "("})
	assert.Equal(t, http.StatusBadRequest, transportStatus(t, err))

	err = h.client.SubmitFeedback(ctx, model.FeedbackSuggestion{RuleID: 1, Suggestion: "  "})
	assert.Equal(t, http.StatusBadRequest, transportStatus(t, err))

	err = h.client.SubmitFeedback(ctx, model.FeedbackSuggestion{RuleID: 99, Suggestion: "x"})
	assert.Equal(t, http.StatusNotFound, transportStatus(t, err))

	require.NoError(t, h.client.SubmitFeedback(ctx, model.FeedbackSuggestion{RuleID: 1, Suggestion: "also match COFFEE"}))
	assert.Equal(t, []model.FeedbackSuggestion{{RuleID: 1, Suggestion: "also match COFFEE"}}, h.server.Feedback())
}

func TestRequestIDEchoed(t *testing.T) {
	h := newHarness(t, Options{})

	req, err := http.NewRequest(http.MethodGet, h.http.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(jobclient.RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-123", resp.Header.Get(jobclient.RequestIDHeader))

	fresh := h.get(t, "/health")
	assert.NotEmpty(t, fresh.Header.Get(jobclient.RequestIDHeader))
}

func TestRecoveryReturns500(t *testing.T) {
	s := New(Options{})
	s.router.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServesHTTPSWithStoredCertificate(t *testing.T) {
	store := certs.NewStore(t.TempDir())
	cert, err := store.Load()
	require.NoError(t, err)
	pool, err := certs.LoadPool(store.CertFile())
	require.NoError(t, err)

	ts := httptest.NewUnstartedServer(New(Options{SigningSecret: "k"}).Handler())
	ts.TLS = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	ts.StartTLS()
	defer ts.Close()

	// httptest listens on 127.0.0.1, which the certificate covers.
	client, err := jobclient.New(ts.URL, jobclient.WithRootCAs(pool))
	require.NoError(t, err)
	rules, err := client.ListRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, len(DefaultRules()))

	untrusted, err := jobclient.New(ts.URL)
	require.NoError(t, err)
	_, err = untrusted.ListRules(context.Background())
	assert.Equal(t, 0, transportStatus(t, err))
}
