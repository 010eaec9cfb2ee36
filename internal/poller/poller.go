// Package poller repeatedly queries a job's status until it reaches a target state.
//
// A poll is a cancellable repeating task: the next status query is scheduled
// only after the previous one settles and a fixed interval has elapsed, so a
// job never has overlapping queries in flight.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/service"
)

// Defaults for a Poller.
const (
	DefaultInterval = time.Second
	DefaultMaxWait  = 15 * time.Minute
)

var (
	// ErrCanceled is returned by a poll that was abandoned before it resolved.
	ErrCanceled = errors.New("poll canceled")
	// ErrTimeout is returned when the status did not satisfy the predicate within the max wait.
	ErrTimeout = errors.New("poll timed out")
)

// UnexpectedStatusError reports a terminal status that does not satisfy the
// predicate. Terminal statuses never change, so polling stops.
type UnexpectedStatusError struct {
	JobID  string
	Status model.JobStatus
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("job %s reached terminal status %q while polling", e.JobID, e.Status)
}

// Predicate decides whether a status ends the poll.
type Predicate func(model.JobStatus) bool

// StatusIs matches a single status.
func StatusIs(want model.JobStatus) Predicate {
	return func(s model.JobStatus) bool { return s == want }
}

// StatusIn matches any of the given statuses.
func StatusIn(want ...model.JobStatus) Predicate {
	return func(s model.JobStatus) bool {
		for _, w := range want {
			if s == w {
				return true
			}
		}
		return false
	}
}

// Terminal matches completed and failed.
func Terminal() Predicate {
	return model.JobStatus.IsTerminal
}

// Poller issues status queries at a fixed interval.
type Poller struct {
	querier  service.StatusQuerier
	interval time.Duration
	maxWait  time.Duration
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the wait between queries. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxWait bounds the total duration of a poll. Zero disables the bound.
func WithMaxWait(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.maxWait = d
		}
	}
}

// New creates a Poller.
func New(querier service.StatusQuerier, opts ...Option) *Poller {
	p := &Poller{
		querier:  querier,
		interval: DefaultInterval,
		maxWait:  DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the configured wait between queries.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start begins polling jobID in the background. The first query is issued
// immediately.
func (p *Poller) Start(ctx context.Context, jobID string, pred Predicate) *Handle {
	h := &Handle{
		jobID:   jobID,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if jobID == "" {
		close(h.stopped)
		h.finish("", common.NewValidationError("job id", "", common.ErrEmptyJobID))
		return h
	}
	if pred == nil {
		close(h.stopped)
		h.finish("", common.NewValidationError("predicate", jobID, errors.New("predicate is required")))
		return h
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	stop := func() {}
	if p.maxWait > 0 {
		runCtx, stop = context.WithTimeoutCause(runCtx, p.maxWait, ErrTimeout)
	}
	h.cancel = cancel

	go func() {
		defer close(h.stopped)
		defer stop()
		defer cancel(nil)
		p.run(runCtx, h, pred)
	}()

	return h
}

// PollUntil polls jobID until pred is satisfied and returns the matching status.
func (p *Poller) PollUntil(ctx context.Context, jobID string, pred Predicate) (model.JobStatus, error) {
	h := p.Start(ctx, jobID, pred)
	defer h.Cancel()
	return h.Wait(ctx)
}

func (p *Poller) run(ctx context.Context, h *Handle, pred Predicate) {
	for {
		if ctx.Err() != nil {
			h.finish("", stopReason(ctx))
			return
		}

		h.mu.Lock()
		h.attempts++
		attempt := h.attempts
		h.mu.Unlock()

		status, err := p.querier.Status(ctx, h.jobID)

		// A response that arrives after cancellation is discarded.
		if ctx.Err() != nil {
			h.finish("", stopReason(ctx))
			return
		}
		if err != nil {
			h.finish("", fmt.Errorf("poll job %s: %w", h.jobID, err))
			return
		}

		slog.Debug("Polled job status", "job_id", h.jobID, "status", status, "attempt", attempt)

		h.mu.Lock()
		h.last = status
		h.mu.Unlock()

		if pred(status) {
			h.finish(status, nil)
			return
		}
		if status.IsTerminal() {
			h.finish(status, &UnexpectedStatusError{JobID: h.jobID, Status: status})
			return
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			h.finish("", stopReason(ctx))
			return
		case <-timer.C:
		}
	}
}

func stopReason(ctx context.Context) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrTimeout):
		return ErrTimeout
	case errors.Is(cause, ErrCanceled):
		return ErrCanceled
	default:
		return fmt.Errorf("%w: %w", ErrCanceled, cause)
	}
}

// Handle controls one running poll.
type Handle struct {
	err      error
	cancel   context.CancelCauseFunc
	done     chan struct{}
	stopped  chan struct{}
	jobID    string
	status   model.JobStatus
	last     model.JobStatus
	attempts int
	mu       sync.Mutex
	finished bool
}

// JobID returns the polled job id.
func (h *Handle) JobID() string {
	return h.jobID
}

// Cancel abandons the poll. No further queries are issued and the handle
// resolves with ErrCanceled unless it already resolved. Safe to call more
// than once.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel(ErrCanceled)
	}
	h.finish("", ErrCanceled)
}

// Done is closed once the poll has resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the poll resolves or ctx ends. Ending ctx does not
// cancel the poll.
func (h *Handle) Wait(ctx context.Context) (model.JobStatus, error) {
	select {
	case <-h.done:
		return h.Result()
	default:
	}

	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (h *Handle) Result() (model.JobStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.err
}

// Attempts returns the number of status queries issued so far.
func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// LastStatus returns the most recently observed status.
func (h *Handle) LastStatus() model.JobStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *Handle) finish(status model.JobStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.finished = true
	h.status = status
	h.err = err
	close(h.done)
}
