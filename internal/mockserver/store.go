package mockserver

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/google/uuid"
)

// Store errors.
var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrUnknownRule  = errors.New("unknown rule")
	ErrNotCompleted = errors.New("job has not completed")
)

type job struct {
	result   *analysis
	id       string
	filename string
	failure  string
	status   model.JobStatus
	content  []byte
	polls    int
}

// store holds every job, rule and piece of feedback in memory.
type store struct {
	jobs     map[string]*job
	rules    []model.Rule
	feedback []model.FeedbackSuggestion
	nextRule int64
	polls    int
	mu       sync.Mutex
}

func newStore(rules []model.Rule, polls int) *store {
	s := &store{
		jobs:  make(map[string]*job),
		polls: polls,
	}
	for _, r := range rules {
		if _, err := s.saveRule(r); err != nil {
			slog.Warn("Skipping seed rule", "label", r.Label, "error", err)
		}
	}
	return s
}

// DefaultRules seeds the fake service.
func DefaultRules() []model.Rule {
	return []model.Rule{
		{Label: "Income", Pattern: `PAYROLL|SALARY`, Priority: 10},
		{Label: "Groceries", Pattern: `TESCO|SAINSBURY|ALDI|LIDL`, Priority: 5},
		{Label: "Subscriptions", Pattern: `NETFLIX|SPOTIFY|DISNEY`, Priority: 5},
		{Label: "Transport", Pattern: `TFL|UBER|TRAINLINE`, Priority: 1},
	}
}

func (s *store) createJob(filename string, content []byte) *job {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &job{
		id:       uuid.NewString(),
		filename: filename,
		status:   model.StatusUploaded,
		content:  content,
	}
	s.jobs[j.id] = j
	return j
}

// classify starts processing. Parsing happens up front; a bad batch still
// reports processing until the configured number of polls has passed.
func (s *store) classify(id string) (model.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return "", ErrUnknownJob
	}
	if j.status != model.StatusUploaded {
		return j.status, nil
	}

	result, err := analyze(j.content, s.rules)
	if err != nil {
		j.failure = err.Error()
	}
	j.result = result
	j.status = model.StatusProcessing
	j.polls = 0
	return j.status, nil
}

// status reports a job's status. Each poll of a processing job advances it.
func (s *store) status(id string) (model.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return "", ErrUnknownJob
	}
	if j.status == model.StatusProcessing {
		j.polls++
		if j.polls >= s.polls {
			j.status = model.StatusCompleted
			if j.failure != "" {
				j.status = model.StatusFailed
			}
		}
	}
	return j.status, nil
}

func (s *store) completed(id string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrUnknownJob
	}
	if j.status != model.StatusCompleted {
		return nil, ErrNotCompleted
	}
	return j, nil
}

func (s *store) listRules() []model.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *store) saveRule(r model.Rule) (model.Rule, error) {
	r.Label = strings.TrimSpace(r.Label)
	r.Pattern = strings.TrimSpace(r.Pattern)
	if r.Label == "" || r.Pattern == "" {
		return model.Rule{}, common.ErrInvalidRule
	}
	if r.MatchType == "" || r.MatchType == "regex" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return model.Rule{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if r.Provenance == "" {
		r.Provenance = "user"
	}
	if r.Field == "" {
		r.Field = "description"
	}

	if r.ID != nil {
		for i := range s.rules {
			if s.rules[i].RuleID() == *r.ID {
				r.Version = s.rules[i].Version + 1
				s.rules[i] = r
				return r, nil
			}
		}
		return model.Rule{}, ErrUnknownRule
	}

	s.nextRule++
	id := s.nextRule
	r.ID = &id
	r.Version = 1
	s.rules = append(s.rules, r)
	return r, nil
}

func (s *store) addFeedback(f model.FeedbackSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rules {
		if r.RuleID() == f.RuleID {
			s.feedback = append(s.feedback, f)
			return nil
		}
	}
	return ErrUnknownRule
}

func (s *store) listFeedback() []model.FeedbackSuggestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.FeedbackSuggestion, len(s.feedback))
	copy(out, s.feedback)
	return out
}
