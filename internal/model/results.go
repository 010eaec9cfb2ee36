package model

// Slot names one independently resolvable piece of a job's results.
type Slot string

// Result slots.
const (
	SlotSummary      Slot = "summary"
	SlotTransactions Slot = "transactions"
	SlotCosts        Slot = "costs"
	SlotSummaryLink  Slot = "summary_link"
	SlotReportLink   Slot = "report_link"
)

// AllSlots lists every slot in display order.
var AllSlots = []Slot{SlotSummary, SlotTransactions, SlotCosts, SlotSummaryLink, SlotReportLink}

// Results is the set of result slots for one job. A nil pointer, or
// HasTransactions == false, means the slot has not resolved.
type Results struct {
	Summary         *Summary
	Costs           *CostAccounting
	SummaryLink     *DownloadLink
	ReportLink      *DownloadLink
	JobID           string
	Transactions    []Transaction
	HasTransactions bool
}

// Resolved reports whether the given slot holds a value.
func (r Results) Resolved(slot Slot) bool {
	switch slot {
	case SlotSummary:
		return r.Summary != nil
	case SlotTransactions:
		return r.HasTransactions
	case SlotCosts:
		return r.Costs != nil
	case SlotSummaryLink:
		return r.SummaryLink != nil
	case SlotReportLink:
		return r.ReportLink != nil
	default:
		return false
	}
}

// Link returns the link slot for kind.
func (r Results) Link(kind LinkKind) *DownloadLink {
	switch kind {
	case LinkSummary:
		return r.SummaryLink
	case LinkReport:
		return r.ReportLink
	default:
		return nil
	}
}

// RouteKind distinguishes the navigation targets keyed by job id.
type RouteKind string

// Route kinds.
const (
	RouteProgress RouteKind = "progress"
	RouteResults  RouteKind = "results"
)

// Route is a navigation target.
type Route struct {
	Kind  RouteKind
	JobID string
}

// Path renders the route the way the web front end addresses it.
func (r Route) Path() string {
	return "/" + string(r.Kind) + "/" + r.JobID
}
