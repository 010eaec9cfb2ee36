package model

// Rule is a server-owned matching rule that maps a pattern to a label.
type Rule struct {
	UserID     *int64  `json:"user_id,omitempty"`
	ID         *int64  `json:"id,omitempty"`
	Label      string  `json:"label"`
	Pattern    string  `json:"pattern"`
	MatchType  string  `json:"match_type,omitempty"`
	Field      string  `json:"field,omitempty"`
	Provenance string  `json:"provenance,omitempty"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
	Priority   int     `json:"priority"`
	Version    int     `json:"version"`
	Confidence float64 `json:"confidence"`
}

// RuleID returns the rule identifier, or 0 for rules not yet saved.
func (r Rule) RuleID() int64 {
	if r.ID == nil {
		return 0
	}
	return *r.ID
}

// FeedbackSuggestion is a user's proposed correction for a rule.
type FeedbackSuggestion struct {
	Suggestion string `json:"suggestion"`
	RuleID     int64  `json:"rule_id"`
}
