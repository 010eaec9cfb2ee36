package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/bankcleanr/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
	ErrInvalidJob   = errors.New("invalid job record")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateJob checks a job record before it is written.
func validateJob(job *model.JobRecord) error {
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	}
	if strings.TrimSpace(job.Phase) == "" {
		return fmt.Errorf("%w: missing phase for job %s", ErrInvalidJob, job.ID)
	}
	if job.LastStatus != "" && !job.LastStatus.Valid() {
		return fmt.Errorf("%w: unknown status %q for job %s", ErrInvalidJob, job.LastStatus, job.ID)
	}
	return nil
}
