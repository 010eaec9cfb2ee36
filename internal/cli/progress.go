package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/bankcleanr/internal/lifecycle"
	"github.com/schollz/progressbar/v3"
)

// ProgressReporter shows a spinner with the current lifecycle phase.
type ProgressReporter struct {
	writer io.Writer
	bar    *progressbar.ProgressBar
	stop   chan struct{}
	done   chan struct{}
	last   lifecycle.Phase
	mu     sync.Mutex
}

// NewProgressReporter starts a spinner on writer. Call Finish to stop it.
func NewProgressReporter(writer io.Writer) *ProgressReporter {
	p := &ProgressReporter{
		writer: writer,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetDescription("[cyan][bold]"+lifecycle.PhaseIdle.Description()+"[reset]"),
		progressbar.OptionClearOnFinish(),
	)

	go p.spin()
	return p
}

func (p *ProgressReporter) spin() {
	defer close(p.done)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			if err := p.bar.Add(1); err != nil {
				slog.Debug("Failed to update spinner", "error", err)
			}
			p.mu.Unlock()
		}
	}
}

// Observe updates the spinner for a lifecycle transition. It has the
// signature of a lifecycle observer.
func (p *ProgressReporter) Observe(state lifecycle.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state.Phase == p.last {
		return
	}
	p.last = state.Phase

	desc := state.Phase.Description()
	if state.JobID != "" {
		desc = fmt.Sprintf("%s (job %s)", desc, state.JobID)
	}
	p.bar.Describe("[cyan][bold]" + desc + "[reset]")
}

// Finish stops the spinner and prints the final state.
func (p *ProgressReporter) Finish(state lifecycle.State) {
	select {
	case <-p.stop:
		return
	default:
		close(p.stop)
	}
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.bar.Finish(); err != nil {
		slog.Debug("Failed to finish spinner", "error", err)
	}

	var line string
	switch {
	case state.Phase == lifecycle.PhaseCompleted:
		line = FormatSuccess("Job " + state.JobID + " completed")
	case state.Phase == lifecycle.PhaseFailed:
		line = FormatError(state.Failure)
	case state.Err != nil:
		line = FormatError(fmt.Sprintf("Job %s stopped while %s: %v", state.JobID, state.Phase, state.Err))
	default:
		line = FormatWarning(fmt.Sprintf("Job %s is still %s", state.JobID, state.Phase.Description()))
	}
	if _, err := fmt.Fprintln(p.writer, line); err != nil {
		slog.Warn("Failed to write progress result", "error", err)
	}
}
