package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/poller"
	"github.com/Veraticus/bankcleanr/internal/service"
)

// Controller owns the lifecycle of one job at a time: submit, wait for the
// upload, trigger classification, wait for a terminal status and navigate.
//
// Observers and the navigator are called synchronously from the lifecycle
// goroutine and must not call Dispose.
type Controller struct {
	svc       service.JobService
	nav       service.Navigator
	store     service.JobStore
	poller    *poller.Poller
	run       *run
	navigated map[string]bool
	terminal  map[string]State
	observers []func(State)
	state     State
	// deliverMu serializes observer and navigator calls with Dispose so that
	// nothing is delivered once Dispose returns.
	deliverMu sync.Mutex
	mu        sync.Mutex
	disposed  bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithPoller sets the status poller.
func WithPoller(p *poller.Poller) Option {
	return func(c *Controller) {
		if p != nil {
			c.poller = p
		}
	}
}

// WithStore records every transition in a job journal and consults it on Resume.
func WithStore(store service.JobStore) Option {
	return func(c *Controller) {
		c.store = store
	}
}

// WithObserver registers fn to receive every state transition in order.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// NewController creates an idle controller.
func NewController(svc service.JobService, nav service.Navigator, opts ...Option) *Controller {
	c := &Controller{
		svc:       svc,
		nav:       nav,
		navigated: make(map[string]bool),
		terminal:  make(map[string]State),
		state:     State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.poller == nil {
		c.poller = poller.New(svc)
	}
	return c
}

// run is one pass through the lifecycle for one job id.
type run struct {
	ctx      context.Context
	err      error
	cancel   context.CancelFunc
	handle   *poller.Handle
	done     chan struct{}
	jobID    string
	filename string
}

// State returns a snapshot of the current job state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a lifecycle run is in progress.
func (c *Controller) Active() bool {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Submit uploads batch and starts the lifecycle for the returned job id.
// ctx bounds the whole lifecycle, not only the upload. When the run is
// discarded while the upload is in flight the job id is still returned,
// together with ErrDisposed or poller.ErrCanceled.
func (c *Controller) Submit(ctx context.Context, batch model.Batch) (string, error) {
	if strings.TrimSpace(batch.Filename) == "" || len(batch.Content) == 0 {
		return "", common.NewValidationError("file", "", common.ErrNoFileSelected)
	}

	r, err := c.beginRun(ctx, "", batch.Filename, State{Phase: PhaseIdle})
	if err != nil {
		return "", err
	}

	jobID, err := c.svc.Upload(r.ctx, batch)
	if err == nil && jobID == "" {
		err = &common.TransportError{Op: "upload", Err: errors.New("empty job id")}
	}
	if err != nil {
		c.commit(r, func(s *State) *model.Route {
			s.Err = err
			return nil
		})
		c.finishRun(r, err)
		return "", fmt.Errorf("failed to submit batch: %w", err)
	}

	c.mu.Lock()
	r.jobID = jobID
	c.mu.Unlock()

	if !c.commit(r, func(s *State) *model.Route {
		*s = State{JobID: jobID, Phase: PhaseSubmitted}
		return nil
	}) {
		c.finishRun(r, poller.ErrCanceled)
		return jobID, c.discarded()
	}

	slog.Info("Submitted batch", "job_id", jobID, "filename", batch.Filename)

	go c.drive(r, StageUploaded)
	return jobID, nil
}

// Resume re-enters the lifecycle for an existing job. It is a no-op when
// jobID is already being polled, and restores the recorded state without
// polling or navigating when the job already reached a terminal phase.
func (c *Controller) Resume(ctx context.Context, jobID string, stage Stage) error {
	if strings.TrimSpace(jobID) == "" {
		return common.NewValidationError("job id", "", common.ErrEmptyJobID)
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if r := c.run; r != nil && r.jobID == jobID && !isDone(r) {
		c.mu.Unlock()
		slog.Debug("Job already being polled", "job_id", jobID)
		return nil
	}
	known, isTerminal := c.terminal[jobID]
	c.mu.Unlock()

	var (
		filename  string
		journaled Phase
	)
	if !isTerminal && c.store != nil {
		rec, err := c.store.GetJob(ctx, jobID)
		switch {
		case err == nil:
			filename = rec.Filename
			journaled = Phase(rec.Phase)
			if rec.Navigated {
				c.mu.Lock()
				c.navigated[jobID] = true
				c.mu.Unlock()
			}
			if phase := Phase(rec.Phase); phase.IsTerminal() {
				known = State{JobID: jobID, Phase: phase, Status: rec.LastStatus, Failure: rec.Failure}
				isTerminal = true
			}
		case errors.Is(err, common.ErrNotFound):
		default:
			slog.Warn("Failed to read job journal", "job_id", jobID, "error", err)
		}
	}

	if isTerminal {
		slog.Info("Job already finished", "job_id", jobID, "phase", known.Phase)
		return c.restore(known)
	}

	stage, err := c.resumeStage(ctx, jobID, journaled, stage)
	if err != nil {
		return err
	}

	phase := PhaseWaitingUploaded
	if stage == StageTerminal {
		phase = PhaseWaitingTerminal
	}
	r, err := c.beginRun(ctx, jobID, filename, State{JobID: jobID, Phase: phase})
	if err != nil {
		return err
	}

	go c.drive(r, stage)
	return nil
}

// resumeStage returns the stage to resume jobID at. A journal showing that
// classification was never confirmed overrides stage.
func (c *Controller) resumeStage(ctx context.Context, jobID string, journaled Phase, stage Stage) (Stage, error) {
	switch journaled {
	case PhaseSubmitted, PhaseWaitingUploaded:
		if stage != StageUploaded {
			slog.Info("Resuming before classification", "job_id", jobID, "journal_phase", journaled)
		}
		return StageUploaded, nil

	case PhaseClassifying:
		// The classify request may not have reached the service.
		status, err := c.svc.Status(ctx, jobID)
		if err != nil {
			return stage, fmt.Errorf("failed to check job %s: %w", jobID, err)
		}
		if status == model.StatusUploaded {
			slog.Info("Resuming before classification", "job_id", jobID, "journal_phase", journaled)
			return StageUploaded, nil
		}
		return StageTerminal, nil
	}
	return stage, nil
}

// discarded reports why the current run was dropped.
func (c *Controller) discarded() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	return poller.ErrCanceled
}

// Wait blocks until the current lifecycle run ends and returns the final
// state. A business failure is reported as ErrJobFailed.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()

	if r == nil {
		st := c.State()
		if st.Phase == PhaseFailed {
			return st, fmt.Errorf("%w: %s", ErrJobFailed, st.Failure)
		}
		return st, st.Err
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
	return c.State(), r.err
}

// Dispose stops any poll and discards every response still in flight. The
// controller cannot be used afterwards.
func (c *Controller) Dispose() {
	c.deliverMu.Lock()
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		c.deliverMu.Unlock()
		return
	}
	c.disposed = true
	if c.run != nil {
		stopRun(c.run)
	}
	c.observers = nil
	c.mu.Unlock()
	c.deliverMu.Unlock()
}

func (c *Controller) beginRun(ctx context.Context, jobID, filename string, initial State) (*run, error) {
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		jobID:    jobID,
		filename: filename,
	}

	c.deliverMu.Lock()
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		c.deliverMu.Unlock()
		cancel()
		return nil, ErrDisposed
	}
	if c.run != nil {
		stopRun(c.run)
	}
	c.run = r
	c.state = initial
	snapshot := c.state
	observers := c.observers
	c.mu.Unlock()

	if initial.Phase != PhaseIdle {
		for _, fn := range observers {
			fn(snapshot)
		}
	}
	c.deliverMu.Unlock()

	if initial.JobID != "" {
		c.record(r, snapshot)
	}
	return r, nil
}

func (c *Controller) restore(st State) error {
	c.deliverMu.Lock()
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		c.deliverMu.Unlock()
		return ErrDisposed
	}
	if c.run != nil {
		stopRun(c.run)
	}
	c.run = nil
	c.state = st
	c.terminal[st.JobID] = st
	observers := c.observers
	c.mu.Unlock()

	for _, fn := range observers {
		fn(st)
	}
	c.deliverMu.Unlock()
	return nil
}

func (c *Controller) drive(r *run, stage Stage) {
	if stage == StageUploaded {
		if !c.commit(r, func(s *State) *model.Route {
			s.Phase = PhaseWaitingUploaded
			return nil
		}) {
			c.finishRun(r, poller.ErrCanceled)
			return
		}

		status, err := c.poll(r, poller.StatusIs(model.StatusUploaded))
		if err != nil {
			c.stop(r, status, err)
			return
		}

		if !c.commit(r, func(s *State) *model.Route {
			s.Phase = PhaseClassifying
			s.Status = status
			return nil
		}) {
			c.finishRun(r, poller.ErrCanceled)
			return
		}

		if err := c.svc.Classify(r.ctx, r.jobID); err != nil {
			c.stop(r, "", fmt.Errorf("failed to trigger classification: %w", err))
			return
		}

		if !c.commit(r, func(s *State) *model.Route {
			s.Phase = PhaseWaitingTerminal
			return &model.Route{Kind: model.RouteProgress, JobID: r.jobID}
		}) {
			c.finishRun(r, poller.ErrCanceled)
			return
		}
	}

	status, err := c.poll(r, poller.StatusIn(model.StatusCompleted, model.StatusFailed))
	if err != nil {
		c.stop(r, status, err)
		return
	}

	switch status {
	case model.StatusCompleted:
		c.complete(r, status)
	case model.StatusFailed:
		c.fail(r, status)
	}
}

func (c *Controller) poll(r *run, pred poller.Predicate) (model.JobStatus, error) {
	h := c.poller.Start(r.ctx, r.jobID, pred)

	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		h.Cancel()
		return "", poller.ErrCanceled
	}
	r.handle = h
	c.mu.Unlock()

	<-h.Done()
	return h.Result()
}

func (c *Controller) complete(r *run, status model.JobStatus) {
	var final State
	ok := c.commit(r, func(s *State) *model.Route {
		s.Phase = PhaseCompleted
		s.Status = status
		s.Err = nil
		final = *s
		c.terminal[r.jobID] = *s
		if c.navigated[r.jobID] {
			return nil
		}
		c.navigated[r.jobID] = true
		return &model.Route{Kind: model.RouteResults, JobID: r.jobID}
	})
	if !ok {
		c.finishRun(r, poller.ErrCanceled)
		return
	}

	slog.Info("Job completed", "job_id", final.JobID)
	c.finishRun(r, nil)
}

func (c *Controller) fail(r *run, status model.JobStatus) {
	var final State
	ok := c.commit(r, func(s *State) *model.Route {
		s.Phase = PhaseFailed
		s.Status = status
		s.Failure = fmt.Sprintf("Classification failed for job %s", r.jobID)
		s.Err = nil
		final = *s
		c.terminal[r.jobID] = *s
		return nil
	})
	if !ok {
		c.finishRun(r, poller.ErrCanceled)
		return
	}

	slog.Warn("Job failed", "job_id", final.JobID)
	c.finishRun(r, fmt.Errorf("%w: %s", ErrJobFailed, final.Failure))
}

// stop ends a run that could not reach a terminal phase.
func (c *Controller) stop(r *run, status model.JobStatus, err error) {
	var unexpected *poller.UnexpectedStatusError
	if errors.As(err, &unexpected) {
		if unexpected.Status == model.StatusFailed {
			c.fail(r, unexpected.Status)
			return
		}
		err = fmt.Errorf("%w: job %s is already %s", ErrUnexpectedStatus, r.jobID, unexpected.Status)
	}

	if errors.Is(err, poller.ErrCanceled) {
		c.finishRun(r, err)
		return
	}

	if c.commit(r, func(s *State) *model.Route {
		if status != "" {
			s.Status = status
		}
		s.Err = err
		return nil
	}) {
		slog.Error("Job lifecycle stopped", "job_id", r.jobID, "error", err)
	}
	c.finishRun(r, err)
}

// commit applies mutate to the state if r is still the current run. The
// route returned by mutate, if any, is navigated to after observers run.
func (c *Controller) commit(r *run, mutate func(*State) *model.Route) bool {
	c.deliverMu.Lock()

	c.mu.Lock()
	if c.disposed || c.run != r || r.ctx.Err() != nil {
		c.mu.Unlock()
		c.deliverMu.Unlock()
		return false
	}
	route := mutate(&c.state)
	snapshot := c.state
	observers := c.observers
	c.mu.Unlock()

	slog.Debug("Job transition", "job_id", snapshot.JobID, "phase", snapshot.Phase, "status", snapshot.Status)

	for _, fn := range observers {
		fn(snapshot)
	}
	if route != nil && c.nav != nil {
		c.nav.Navigate(*route)
	}
	c.deliverMu.Unlock()

	if snapshot.JobID != "" {
		c.record(r, snapshot)
	}
	return true
}

func (c *Controller) record(r *run, st State) {
	if c.store == nil {
		return
	}

	c.mu.Lock()
	navigated := c.navigated[st.JobID]
	c.mu.Unlock()

	rec := &model.JobRecord{
		ID:         st.JobID,
		Filename:   r.filename,
		Phase:      string(st.Phase),
		LastStatus: st.Status,
		Failure:    st.Failure,
		Navigated:  navigated,
		UpdatedAt:  time.Now(),
	}
	if err := c.store.SaveJob(context.WithoutCancel(r.ctx), rec); err != nil {
		slog.Warn("Failed to record job transition", "job_id", st.JobID, "phase", st.Phase, "error", err)
	}
}

func (c *Controller) finishRun(r *run, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if isDone(r) {
		return
	}
	r.err = err
	r.cancel()
	close(r.done)
}

// stopRun must be called with c.mu held.
func stopRun(r *run) {
	r.cancel()
	if r.handle != nil {
		r.handle.Cancel()
	}
}

func isDone(r *run) bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
