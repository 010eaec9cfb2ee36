// Package results loads every result slot of a completed job concurrently.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/service"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is reported for every slot when Load runs after Close.
var ErrClosed = errors.New("aggregator closed")

// LoadReport lists the slots that failed during one Load.
type LoadReport struct {
	Errors map[model.Slot]error
}

// OK reports whether every slot loaded.
func (r LoadReport) OK() bool {
	return len(r.Errors) == 0
}

// Failed returns the failed slots in display order.
func (r LoadReport) Failed() []model.Slot {
	var out []model.Slot
	for _, slot := range model.AllSlots {
		if _, ok := r.Errors[slot]; ok {
			out = append(out, slot)
		}
	}
	return out
}

// Aggregator holds the result slots for one job. Slots are filled
// independently as their fetches succeed.
type Aggregator struct {
	fetcher  service.ResultFetcher
	ctx      context.Context
	cancel   context.CancelFunc
	observer func(model.Slot, model.Results)
	written  map[model.Slot]uint64
	jobID    string
	results  model.Results
	gen      uint64
	mu       sync.Mutex
	closed   bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSlotObserver registers fn to be called with a snapshot each time a
// slot is written. Calls may arrive in any slot order.
func WithSlotObserver(fn func(model.Slot, model.Results)) Option {
	return func(a *Aggregator) {
		a.observer = fn
	}
}

// NewAggregator creates an empty aggregator for jobID.
func NewAggregator(fetcher service.ResultFetcher, jobID string, opts ...Option) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		fetcher: fetcher,
		jobID:   jobID,
		ctx:     ctx,
		cancel:  cancel,
		written: make(map[model.Slot]uint64),
		results: model.Results{JobID: jobID},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load fetches all five slots concurrently and blocks until every fetch has
// settled. A failed fetch leaves its slot at the previous value. After
// Close nothing is fetched and every slot fails with ErrClosed.
func (a *Aggregator) Load(ctx context.Context) LoadReport {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		errs := make(map[model.Slot]error, len(model.AllSlots))
		for _, slot := range model.AllSlots {
			errs[slot] = ErrClosed
		}
		return LoadReport{Errors: errs}
	}
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	// Close aborts in-flight fetches.
	go func() {
		select {
		case <-a.ctx.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	var (
		errMu sync.Mutex
		errs  = make(map[model.Slot]error)
	)
	fail := func(slot model.Slot, err error) {
		errMu.Lock()
		errs[slot] = err
		errMu.Unlock()
		slog.Warn("Failed to load result slot", "job_id", a.jobID, "slot", slot, "error", err)
	}

	var g errgroup.Group
	for _, slot := range model.AllSlots {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					fail(slot, fmt.Errorf("fetch %s panicked: %v", slot, r))
				}
			}()

			apply, ferr := a.fetch(ctx, slot)
			if ferr != nil {
				fail(slot, ferr)
				return nil
			}
			a.write(gen, slot, apply)
			return nil
		})
	}
	_ = g.Wait()

	return LoadReport{Errors: errs}
}

// fetch returns a function that writes the fetched value into a Results.
func (a *Aggregator) fetch(ctx context.Context, slot model.Slot) (func(*model.Results), error) {
	switch slot {
	case model.SlotSummary:
		summary, err := a.fetcher.Summary(ctx, a.jobID)
		if err != nil {
			return nil, err
		}
		if summary == nil {
			return nil, fmt.Errorf("empty summary for job %s", a.jobID)
		}
		s := *summary
		return func(r *model.Results) { r.Summary = &s }, nil

	case model.SlotTransactions:
		txns, err := a.fetcher.Transactions(ctx, a.jobID)
		if err != nil {
			return nil, err
		}
		txns = append([]model.Transaction{}, txns...)
		return func(r *model.Results) {
			r.Transactions = txns
			r.HasTransactions = true
		}, nil

	case model.SlotCosts:
		costs, err := a.fetcher.Costs(ctx, a.jobID)
		if err != nil {
			return nil, err
		}
		if costs == nil {
			return nil, fmt.Errorf("empty costs for job %s", a.jobID)
		}
		c := *costs
		return func(r *model.Results) { r.Costs = &c }, nil

	case model.SlotSummaryLink, model.SlotReportLink:
		kind := model.LinkSummary
		if slot == model.SlotReportLink {
			kind = model.LinkReport
		}
		raw, err := a.fetcher.SignedLink(ctx, a.jobID, kind)
		if err != nil {
			return nil, err
		}
		link, err := model.NewDownloadLink(kind, raw)
		if err != nil {
			return nil, err
		}
		return func(r *model.Results) {
			if kind == model.LinkSummary {
				r.SummaryLink = &link
			} else {
				r.ReportLink = &link
			}
		}, nil

	default:
		return nil, fmt.Errorf("unknown slot %q", slot)
	}
}

// write applies a fetched slot value unless the aggregator is closed or a
// newer load already wrote the slot.
func (a *Aggregator) write(gen uint64, slot model.Slot, apply func(*model.Results)) {
	a.mu.Lock()
	if a.closed || a.written[slot] > gen {
		a.mu.Unlock()
		slog.Debug("Discarded stale result slot", "job_id", a.jobID, "slot", slot, "generation", gen)
		return
	}
	a.written[slot] = gen
	apply(&a.results)
	snapshot := a.snapshotLocked()
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer(slot, snapshot)
	}
}

// Snapshot returns a copy of the current slots.
func (a *Aggregator) Snapshot() model.Results {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() model.Results {
	r := a.results
	if r.Transactions != nil {
		r.Transactions = append([]model.Transaction(nil), r.Transactions...)
	}
	return r
}

// Close discards every response still in flight. Loads after Close do nothing.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.observer = nil
	a.cancel()
}
