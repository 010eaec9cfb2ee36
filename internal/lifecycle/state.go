// Package lifecycle drives a classification job from upload to results.
package lifecycle

import (
	"errors"

	"github.com/Veraticus/bankcleanr/internal/model"
)

// Phase is the controller's view of where a job is in its lifecycle.
type Phase string

// Phases, in the only order they can occur. Failed may follow either
// waiting phase.
const (
	PhaseIdle            Phase = "idle"
	PhaseSubmitted       Phase = "submitted"
	PhaseWaitingUploaded Phase = "waiting_uploaded"
	PhaseClassifying     Phase = "classifying"
	PhaseWaitingTerminal Phase = "waiting_terminal"
	PhaseCompleted       Phase = "completed"
	PhaseFailed          Phase = "failed"
)

// IsTerminal reports whether the phase ends the lifecycle.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Description is a short human-readable label for the phase.
func (p Phase) Description() string {
	switch p {
	case PhaseIdle:
		return "Waiting for a file"
	case PhaseSubmitted:
		return "Uploaded"
	case PhaseWaitingUploaded:
		return "Waiting for the upload to be accepted"
	case PhaseClassifying:
		return "Starting classification"
	case PhaseWaitingTerminal:
		return "Classifying transactions"
	case PhaseCompleted:
		return "Completed"
	case PhaseFailed:
		return "Failed"
	default:
		return string(p)
	}
}

// Stage selects where Resume re-enters the lifecycle.
type Stage int

// Resume entry points.
const (
	// StageUploaded waits for the upload to be accepted, then classifies.
	StageUploaded Stage = iota
	// StageTerminal waits for the job to complete or fail.
	StageTerminal
)

var (
	// ErrDisposed is returned by a controller after Dispose.
	ErrDisposed = errors.New("controller disposed")
	// ErrJobFailed is returned by Wait when the server reported the job as failed.
	ErrJobFailed = errors.New("job failed")
	// ErrUnexpectedStatus is returned when the job completed before classification was triggered.
	ErrUnexpectedStatus = errors.New("unexpected job status")
)

// State is a snapshot of the controller's current job.
type State struct {
	// Err is set when a transport or protocol error stopped the lifecycle
	// before a terminal phase. The job can be resumed.
	Err     error
	JobID   string
	Phase   Phase
	Status  model.JobStatus
	Failure string
}
