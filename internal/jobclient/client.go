// Package jobclient talks to the remote job service over HTTP.
package jobclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/google/uuid"
)

// UploadContentType is the media type of an uploaded batch.
const UploadContentType = "application/x-ndjson"

// RequestIDHeader carries a per-request identifier for server-side correlation.
const RequestIDHeader = "X-Request-ID"

const maxErrorBody = 512

// Client implements the job, result, rule and feedback services against
// the remote job service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets a per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRootCAs trusts pool for HTTPS connections to the service.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(c *Client) {
		if pool == nil {
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
		c.httpClient.Transport = transport
	}
}

// New creates a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: base url", common.ErrMissingConfig)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url %q: %v", common.ErrInvalidConfig, baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: base url %q must be http or https", common.ErrInvalidConfig, baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the service root that relative signed URLs resolve against.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Upload posts a batch as multipart form data and returns the job id.
func (c *Client) Upload(ctx context.Context, batch model.Batch) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, batch.Filename))
	header.Set("Content-Type", UploadContentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create upload part: %w", err)
	}
	if _, err := part.Write(batch.Content); err != nil {
		return "", fmt.Errorf("failed to write upload part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish upload body: %w", err)
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, "upload", http.MethodPost, "upload", &body, mw.FormDataContentType(), &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", &common.TransportError{Op: "upload", Err: fmt.Errorf("response has no job_id")}
	}

	slog.Debug("Uploaded batch", "job_id", resp.JobID, "filename", batch.Filename, "bytes", len(batch.Content))
	return resp.JobID, nil
}

// Classify triggers classification. The response body is ignored.
func (c *Client) Classify(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(map[string]string{"job_id": jobID})
	if err != nil {
		return fmt.Errorf("failed to encode classify request: %w", err)
	}
	return c.do(ctx, "classify", http.MethodPost, "classify", bytes.NewReader(payload), "application/json", nil)
}

// Status reads the job's current status.
func (c *Client) Status(ctx context.Context, jobID string) (model.JobStatus, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, "poll status", http.MethodGet, "status/"+url.PathEscape(jobID), nil, "", &resp); err != nil {
		return "", err
	}
	status, err := model.ParseJobStatus(resp.Status)
	if err != nil {
		return "", &common.TransportError{Op: "poll status", Err: err}
	}
	return status, nil
}

// Summary fetches the job summary.
func (c *Client) Summary(ctx context.Context, jobID string) (*model.Summary, error) {
	var s model.Summary
	if err := c.do(ctx, "fetch summary", http.MethodGet, "summary/"+url.PathEscape(jobID), nil, "", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Transactions fetches the classified transactions in server order.
func (c *Client) Transactions(ctx context.Context, jobID string) ([]model.Transaction, error) {
	var txns []model.Transaction
	if err := c.do(ctx, "fetch transactions", http.MethodGet, "transactions/"+url.PathEscape(jobID), nil, "", &txns); err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	return txns, nil
}

// Costs fetches token usage and estimated cost.
func (c *Client) Costs(ctx context.Context, jobID string) (*model.CostAccounting, error) {
	var costs model.CostAccounting
	if err := c.do(ctx, "fetch costs", http.MethodGet, "costs/"+url.PathEscape(jobID), nil, "", &costs); err != nil {
		return nil, err
	}
	return &costs, nil
}

// SignedLink asks the signing endpoint for kind and returns the signed URL.
func (c *Client) SignedLink(ctx context.Context, jobID string, kind model.LinkKind) (string, error) {
	var path string
	switch kind {
	case model.LinkSummary:
		path = "download/" + url.PathEscape(jobID) + "/summary"
	case model.LinkReport:
		path = "report/" + url.PathEscape(jobID)
	default:
		return "", fmt.Errorf("unknown link kind %q", kind)
	}

	op := "resolve " + string(kind) + " link"
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, op, http.MethodGet, path, nil, "", &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// ListRules fetches all matching rules.
func (c *Client) ListRules(ctx context.Context) ([]model.Rule, error) {
	var rules []model.Rule
	if err := c.do(ctx, "list rules", http.MethodGet, "rules", nil, "", &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SaveRule creates or updates a rule.
func (c *Client) SaveRule(ctx context.Context, rule model.Rule) (*model.Rule, error) {
	payload, err := json.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule: %w", err)
	}
	var saved model.Rule
	if err := c.do(ctx, "save rule", http.MethodPost, "heuristics", bytes.NewReader(payload), "application/json", &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// SubmitFeedback posts a rule correction.
func (c *Client) SubmitFeedback(ctx context.Context, suggestion model.FeedbackSuggestion) error {
	payload, err := json.Marshal(suggestion)
	if err != nil {
		return fmt.Errorf("failed to encode feedback: %w", err)
	}
	return c.do(ctx, "submit feedback", http.MethodPost, "feedback", bytes.NewReader(payload), "application/json", nil)
}

// Download fetches a signed artifact into w and returns the server-suggested
// filename, if any.
func (c *Client) Download(ctx context.Context, link model.DownloadLink, w io.Writer) (string, error) {
	target, err := link.Absolute(c.baseURL)
	if err != nil {
		return "", err
	}

	op := "download " + string(link.Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &common.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return "", err
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", &common.TransportError{Op: op, Err: err}
	}

	var filename string
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, perr := mime.ParseMediaType(cd); perr == nil {
			filename = params["filename"]
		}
	}
	return filename, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("failed to build url for %s: %w", op, err)
	}
	target := c.baseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())

	slog.Debug("Calling job service", "op", op, "method", method, "url", target.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &common.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &common.TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &common.TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
