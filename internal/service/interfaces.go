// Package service defines the interfaces shared between the bankcleanr components.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/bankcleanr/internal/model"
)

// StatusQuerier reads the server-reported status of a job.
type StatusQuerier interface {
	Status(ctx context.Context, jobID string) (model.JobStatus, error)
}

// JobService is the part of the remote job service that drives a job's lifecycle.
type JobService interface {
	StatusQuerier
	Upload(ctx context.Context, batch model.Batch) (string, error)
	Classify(ctx context.Context, jobID string) error
}

// ResultFetcher reads the results of a completed job.
type ResultFetcher interface {
	Summary(ctx context.Context, jobID string) (*model.Summary, error)
	Transactions(ctx context.Context, jobID string) ([]model.Transaction, error)
	Costs(ctx context.Context, jobID string) (*model.CostAccounting, error)
	// SignedLink asks the signing endpoint for kind and returns the signed URL it hands out.
	SignedLink(ctx context.Context, jobID string, kind model.LinkKind) (string, error)
}

// RuleService lists and saves matching rules.
type RuleService interface {
	ListRules(ctx context.Context) ([]model.Rule, error)
	SaveRule(ctx context.Context, rule model.Rule) (*model.Rule, error)
}

// FeedbackSender posts rule feedback.
type FeedbackSender interface {
	SubmitFeedback(ctx context.Context, suggestion model.FeedbackSuggestion) error
}

// Navigator moves the presentation layer between routes.
type Navigator interface {
	Navigate(route model.Route)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(route model.Route)

// Navigate calls f(route).
func (f NavigatorFunc) Navigate(route model.Route) {
	f(route)
}

// JobStore is the local journal of submitted jobs.
type JobStore interface {
	SaveJob(ctx context.Context, job *model.JobRecord) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	ListJobs(ctx context.Context, limit int) ([]model.JobRecord, error)
}

// ResultExporter writes a job's results to an external destination.
type ResultExporter interface {
	Export(ctx context.Context, results model.Results) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
