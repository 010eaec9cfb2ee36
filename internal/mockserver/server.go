// Package mockserver is an in-memory job service for local development and
// end-to-end tests. It classifies uploaded JSON Lines batches against its
// rule set and serves signed download links.
package mockserver

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/export"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/gin-gonic/gin"
)

const (
	maxUploadBytes  = 10 << 20
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	shutdownTimeout = 5 * time.Second
)

// Options configures the fake service.
type Options struct {
	Logger        *slog.Logger
	SigningSecret string
	// Rules seeds the rule set. Nil uses DefaultRules.
	Rules []model.Rule
	// LinkTTL is how long signed links stay valid.
	LinkTTL time.Duration
	// ProcessingPolls is how many status polls a job reports processing.
	ProcessingPolls int
}

// Server is the fake job service.
type Server struct {
	router *gin.Engine
	signer *Signer
	store  *store
	report *export.XLSXWriter
	logger *slog.Logger
}

// New creates a server.
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	s := &Server{
		router: gin.New(),
		signer: NewSigner(opts.SigningSecret, opts.LinkTTL),
		store:  newStore(rules, opts.ProcessingPolls),
		report: export.NewStreamWriter(export.WithLogger(logger)),
		logger: logger,
	}
	s.router.Use(requestID(), recovery(logger), requestLogger(logger))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/upload", s.handleUpload)
	r.POST("/classify", s.handleClassify)
	r.GET("/status/:id", s.handleStatus)

	r.GET("/summary/:id", s.handleSummary)
	r.GET("/transactions/:id", s.handleTransactions)
	r.GET("/costs/:id", s.handleCosts)

	r.GET("/download/:id/summary", s.handleSummaryDownload)
	r.GET("/report/:id", s.handleReportLink)
	r.GET("/download/:id/report", s.handleReportDownload)

	r.GET("/rules", s.handleListRules)
	r.POST("/heuristics", s.handleSaveRule)
	r.POST("/feedback", s.handleFeedback)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Feedback returns every suggestion received so far.
func (s *Server) Feedback() []model.FeedbackSuggestion {
	return s.store.listFeedback()
}

// ListenAndServe serves plain HTTP on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := s.httpServer(addr)
	return s.serve(ctx, srv, "http", srv.ListenAndServe)
}

// ListenAndServeTLS serves HTTPS with cert on addr until ctx is canceled.
func (s *Server) ListenAndServeTLS(ctx context.Context, addr string, cert tls.Certificate) error {
	srv := s.httpServer(addr)
	srv.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return s.serve(ctx, srv, "https", func() error {
		return srv.ListenAndServeTLS("", "")
	})
}

func (s *Server) httpServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) serve(ctx context.Context, srv *http.Server, scheme string, listen func() error) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mock job service listening", "addr", srv.Addr, "scheme", scheme)
		errCh <- listen()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("mock server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down mock server: %w", err)
	}
	<-errCh
	return nil
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      err.Error(),
		"request_id": getRequestID(c),
	})
}

func storeStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownJob), errors.Is(err, ErrUnknownRule):
		return http.StatusNotFound
	case errors.Is(err, ErrNotCompleted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("missing file: %w", err))
		return
	}
	f, err := header.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if len(content) > maxUploadBytes {
		abort(c, http.StatusRequestEntityTooLarge, errors.New("upload too large"))
		return
	}
	if len(bytes.TrimSpace(content)) == 0 {
		abort(c, http.StatusBadRequest, ErrEmptyBatch)
		return
	}

	j := s.store.createJob(header.Filename, content)
	s.logger.Info("job uploaded", "job_id", j.id, "filename", j.filename, "bytes", len(content))
	c.JSON(http.StatusOK, gin.H{"job_id": j.id, "status": j.status})
}

func (s *Server) handleClassify(c *gin.Context) {
	var req struct {
		JobID string `json:"job_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.JobID) == "" {
		abort(c, http.StatusBadRequest, common.ErrEmptyJobID)
		return
	}

	status, err := s.store.classify(req.JobID)
	if err != nil {
		abort(c, storeStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": req.JobID, "status": status})
}

func (s *Server) handleStatus(c *gin.Context) {
	id := c.Param("id")
	status, err := s.store.status(id)
	if err != nil {
		abort(c, storeStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": status})
}

func (s *Server) completedJob(c *gin.Context) (*job, bool) {
	j, err := s.store.completed(c.Param("id"))
	if err != nil {
		abort(c, storeStatus(err), err)
		return nil, false
	}
	return j, true
}

func (s *Server) handleSummary(c *gin.Context) {
	if j, ok := s.completedJob(c); ok {
		c.JSON(http.StatusOK, j.result.summary)
	}
}

func (s *Server) handleTransactions(c *gin.Context) {
	if j, ok := s.completedJob(c); ok {
		c.JSON(http.StatusOK, j.result.transactions)
	}
}

func (s *Server) handleCosts(c *gin.Context) {
	if j, ok := s.completedJob(c); ok {
		c.JSON(http.StatusOK, j.result.costs)
	}
}

// verified checks the request's signature. Unsigned requests report false
// without writing a response.
func (s *Server) verified(c *gin.Context) (signed, ok bool) {
	sig := c.Query("signature")
	if sig == "" {
		return false, false
	}
	if err := s.signer.Verify(c.Request.URL.Path, c.Query("expires"), sig); err != nil {
		s.logger.Warn("rejected signed link", "path", c.Request.URL.Path, "error", err)
		abort(c, http.StatusForbidden, err)
		return true, false
	}
	return true, true
}

func (s *Server) handleSummaryDownload(c *gin.Context) {
	signed, ok := s.verified(c)
	if signed && !ok {
		return
	}
	j, found := s.completedJob(c)
	if !found {
		return
	}

	if !signed {
		c.JSON(http.StatusOK, gin.H{"url": s.signer.Sign(c.Request.URL.Path)})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="summary-%s.json"`, j.id))
	c.JSON(http.StatusOK, j.result.summary)
}

func (s *Server) handleReportLink(c *gin.Context) {
	j, ok := s.completedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": s.signer.Sign("/download/" + j.id + "/report")})
}

func (s *Server) handleReportDownload(c *gin.Context) {
	signed, ok := s.verified(c)
	if !signed {
		abort(c, http.StatusForbidden, ErrBadSignature)
		return
	}
	if !ok {
		return
	}
	j, found := s.completedJob(c)
	if !found {
		return
	}

	results := model.Results{
		JobID:           j.id,
		Summary:         &j.result.summary,
		Transactions:    j.result.transactions,
		HasTransactions: true,
		Costs:           &j.result.costs,
	}
	var buf bytes.Buffer
	if err := s.report.Write(c.Request.Context(), &buf, results); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s.xlsx"`, j.id))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (s *Server) handleListRules(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.listRules())
}

func (s *Server) handleSaveRule(c *gin.Context) {
	var rule model.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	saved, err := s.store.saveRule(rule)
	switch {
	case errors.Is(err, ErrUnknownRule):
		abort(c, http.StatusNotFound, err)
		return
	case err != nil:
		abort(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) handleFeedback(c *gin.Context) {
	var f model.FeedbackSuggestion
	if err := c.ShouldBindJSON(&f); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	f.Suggestion = strings.TrimSpace(f.Suggestion)
	if f.Suggestion == "" {
		abort(c, http.StatusBadRequest, common.ErrEmptySuggestion)
		return
	}

	if err := s.store.addFeedback(f); err != nil {
		abort(c, storeStatus(err), err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "received"})
}
