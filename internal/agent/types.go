// Package agent implements the query-routing and context-orchestration engine:
// classifier, decomposition planner, the retrieval and reasoning roles, and the
// per-turn orchestrator state machine.
package agent

import (
	"time"

	"github.com/repolens/repolens/internal/domain"
	"github.com/repolens/repolens/internal/githubapi"
)

// RouteClass is the classifier's routing decision for one user message.
type RouteClass int

const (
	// RouteFollowUpAffirmation resolves a short affirmative against the
	// previous turn's pending suggestions.
	RouteFollowUpAffirmation RouteClass = iota
	// RouteSimpleRetrieval maps to a single directly nameable data fetch.
	RouteSimpleRetrieval
	// RouteComplexAnalysis decomposes into a retrieval plan before reasoning.
	RouteComplexAnalysis
)

func (c RouteClass) String() string {
	switch c {
	case RouteFollowUpAffirmation:
		return "follow_up_affirmation"
	case RouteSimpleRetrieval:
		return "simple_retrieval"
	default:
		return "complex_analysis"
	}
}

// QueryKind enumerates the closed set of retrieval calls the orchestrator is
// willing to execute. The model's tool proposals are validated against this
// set; the orchestrator, not the model, decides what runs.
type QueryKind string

const (
	QueryDirectoryListing QueryKind = "directory_listing"
	QueryFileContent      QueryKind = "file_content"
	QueryCodeSearch       QueryKind = "code_search"
	QueryPullRequests     QueryKind = "pull_request_listing"
	QueryRepositoryInfo   QueryKind = "repository_info"
	QueryBranchListing    QueryKind = "branch_listing"
	QueryIssueListing     QueryKind = "issue_listing"
)

// Valid reports whether k is a member of the closed query-kind set.
func (k QueryKind) Valid() bool {
	switch k {
	case QueryDirectoryListing, QueryFileContent, QueryCodeSearch,
		QueryPullRequests, QueryRepositoryInfo, QueryBranchListing, QueryIssueListing:
		return true
	}
	return false
}

// RetrievalQuery is one validated, executable retrieval call.
type RetrievalQuery struct {
	Kind    QueryKind
	Path    string // directory_listing, file_content
	Pattern string // code_search
	Ref     string // optional git ref
}

// RetrievalStatus is the outcome of one retrieval sub-step.
type RetrievalStatus string

const (
	StatusOK       RetrievalStatus = "ok"
	StatusNotFound RetrievalStatus = "not_found"
	StatusError    RetrievalStatus = "error"
)

// RetrievalResult is the retrieval role's output for one sub-step. A failed
// result is a gap: it is passed forward to the reasoning role as data rather
// than aborting the turn.
type RetrievalResult struct {
	Description string
	Query       RetrievalQuery
	Status      RetrievalStatus
	Payload     string // rendered facts, empty on failure
	Detail      string // failure detail, empty on success
	Entries     []githubapi.DirEntry
	Elapsed     time.Duration
}

// IsGap reports whether this result records a retrieval failure.
func (r *RetrievalResult) IsGap() bool {
	return r.Status != StatusOK
}

// PlanStep is one retrieval sub-step of a decomposition plan. A step with
// fan-out set expands at execution time into file fetches for entries of the
// most recent directory listing; it is always ordered after that listing.
type PlanStep struct {
	Description   string
	Query         RetrievalQuery
	FanOutSubstr  string   // fetch listed files whose name contains this
	FanOutExact   []string // fetch listed files with exactly these names
}

// IsFanOut reports whether the step expands against a prior listing.
func (s *PlanStep) IsFanOut() bool {
	return s.FanOutSubstr != "" || len(s.FanOutExact) > 0
}

// Plan is an ordered list of retrieval sub-steps, built fresh per complex
// query and discarded after execution.
type Plan struct {
	Steps []PlanStep
}

// TurnResult is the orchestrator's output for one completed turn.
type TurnResult struct {
	Answer      string
	Suggestions []domain.Suggestion
	ToolCalls   []domain.ToolCall
}

// TraceFunc observes retrieval calls as they execute, for live UIs.
type TraceFunc func(domain.ToolCall)
