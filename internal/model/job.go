// Package model defines the core data structures for the bankcleanr client.
package model

import (
	"fmt"
	"time"
)

// JobStatus is the server-reported state of a classification job.
type JobStatus string

// Job status constants. The server is authoritative for these values.
const (
	StatusUploaded   JobStatus = "uploaded"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can follow this status.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseJobStatus validates a raw status string from the wire.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return s, nil
}

// Job is a submitted batch tracked by a server-assigned identifier.
type Job struct {
	ID     string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// Batch is the payload handed to the upload endpoint. Content is opaque to
// the client.
type Batch struct {
	Filename string
	Content  []byte
}

// JobRecord is a row in the local job journal.
type JobRecord struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ID         string
	Filename   string
	Phase      string
	LastStatus JobStatus
	Failure    string
	Navigated  bool
}
