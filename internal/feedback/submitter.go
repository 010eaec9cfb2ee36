// Package feedback tracks and submits per-rule feedback suggestions.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/Veraticus/bankcleanr/internal/common"
	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/service"
)

// State is the feedback state of one rule.
type State struct {
	Err        error
	Draft      string
	Submitted  bool
	InProgress bool
}

// Submitter keeps independent feedback state for each rule.
type Submitter struct {
	sender service.FeedbackSender
	states map[int64]State
	mu     sync.Mutex
}

// NewSubmitter creates a Submitter that posts through sender.
func NewSubmitter(sender service.FeedbackSender) *Submitter {
	return &Submitter{
		sender: sender,
		states: make(map[int64]State),
	}
}

// SetDraft records the suggestion being edited for ruleID.
func (s *Submitter) SetDraft(ruleID int64, text string) {
	s.update(ruleID, func(st *State) {
		st.Draft = text
	})
}

// State returns the feedback state for ruleID.
func (s *Submitter) State(ruleID int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[ruleID]
}

// Submit posts suggestion for ruleID. A blank suggestion fails validation
// without a network call.
func (s *Submitter) Submit(ctx context.Context, ruleID int64, suggestion string) error {
	suggestion = strings.TrimSpace(suggestion)
	key := strconv.FormatInt(ruleID, 10)

	if suggestion == "" {
		err := common.NewValidationError("suggestion", key, common.ErrEmptySuggestion)
		s.update(ruleID, func(st *State) {
			st.Err = err
		})
		return err
	}

	s.update(ruleID, func(st *State) {
		st.InProgress = true
		st.Err = nil
	})

	err := s.sender.SubmitFeedback(ctx, model.FeedbackSuggestion{RuleID: ruleID, Suggestion: suggestion})
	if err != nil {
		err = fmt.Errorf("failed to submit feedback for rule %d: %w", ruleID, err)
		s.update(ruleID, func(st *State) {
			st.InProgress = false
			st.Err = err
		})
		slog.Warn("Feedback submission failed", "rule_id", ruleID, "error", err)
		return err
	}

	s.update(ruleID, func(st *State) {
		st.InProgress = false
		st.Submitted = true
		st.Draft = ""
		st.Err = nil
	})
	slog.Info("Submitted feedback", "rule_id", ruleID)
	return nil
}

func (s *Submitter) update(ruleID int64, fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[ruleID]
	fn(&st)
	s.states[ruleID] = st
}
