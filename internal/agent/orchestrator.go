package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/repolens/repolens/internal/domain"
)

// maxExtraRetrievalRounds bounds how often the reasoning role may ask for
// more data within one turn, guaranteeing termination even if the signal
// never stabilizes.
const maxExtraRetrievalRounds = 2

const askRepoAnswer = "Which repository should I look at? Please specify it in owner/name format (for example agno-agi/agno)."

// Orchestrator is the top-level driver: it consumes one user message, runs
// the classifier, executes the roles in sequence, updates session state and
// returns the answer plus new suggestions. Turns are strictly sequential; a
// turn either completes through finalization or fails outward without
// touching session state.
type Orchestrator struct {
	sessions  *SessionManager
	retriever *Retriever
	reasoner  *Reasoner
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(sessions *SessionManager, retriever *Retriever, reasoner *Reasoner) *Orchestrator {
	return &Orchestrator{sessions: sessions, retriever: retriever, reasoner: reasoner}
}

// Sessions exposes the session manager to the presentation layer.
func (o *Orchestrator) Sessions() *SessionManager {
	return o.sessions
}

// HandleTurn runs one complete turn: Classifying, optionally
// ResolvingFollowUp (bounded to one rewrite), Retrieving or
// Planning→Retrieving, Reasoning with bounded extra rounds, Finalizing.
// trace, when non-nil, observes retrieval calls as they run.
func (o *Orchestrator) HandleTurn(ctx context.Context, userText string, trace TraceFunc) (*TurnResult, error) {
	conv := o.sessions.Snapshot()
	text := strings.TrimSpace(userText)
	if text == "" {
		return o.finalize(ctx, conv, userText, askRepoAnswer, nil, nil)
	}

	// Classifying.
	route := Classify(text, conv)
	slog.Info("Turn classified", "session_id", conv.SessionID, "route", route.String())

	// ResolvingFollowUp: rewrite as the first pending suggestion's literal
	// text, then classify once more. A stale suggestion set (generated
	// against a different repository than the now-active one) is not
	// executed; the user is asked to reconfirm.
	if route == RouteFollowUpAffirmation {
		if conv.SuggestionsRepo != "" && conv.SuggestionsRepo != conv.ActiveRepo {
			answer := fmt.Sprintf(
				"The suggestion %q was made for %s, but the conversation has since moved to %s. Please re-state the request if you still want it.",
				conv.PendingSuggestions[0].Text, conv.SuggestionsRepo, conv.ActiveRepo)
			return o.finalize(ctx, conv, userText, answer, nil, nil)
		}
		text = conv.PendingSuggestions[0].Text
		slog.Info("Affirmation resolved", "session_id", conv.SessionID, "rewritten", text)

		reclassify := conv.Clone()
		reclassify.PendingSuggestions = nil
		route = Classify(text, reclassify)
	}

	// An explicit repository reference switches the active repository.
	if repo := ExtractRepo(text); repo != "" && repo != conv.ActiveRepo {
		slog.Info("Active repository set", "session_id", conv.SessionID, "repo", repo)
		conv.ActiveRepo = repo
	}

	// No retrieval may run without a target repository: ask instead.
	if conv.ActiveRepo == "" {
		return o.finalize(ctx, conv, userText, askRepoAnswer, nil, nil)
	}

	// Retrieving / Planning→Retrieving.
	var plan *Plan
	if route == RouteSimpleRetrieval {
		q, err := o.retriever.ResolveQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		plan = &Plan{Steps: []PlanStep{{Description: describeTarget(*q), Query: *q}}}
	} else {
		plan = BuildPlan(text, conv.Messages)
	}

	var results []RetrievalResult
	var toolCalls []domain.ToolCall
	for _, step := range plan.Steps {
		if step.IsFanOut() {
			for _, sub := range expandFanOut(step, results) {
				results = append(results, o.execute(ctx, conv, sub, trace, &toolCalls))
			}
			continue
		}
		results = append(results, o.execute(ctx, conv, step, trace, &toolCalls))
	}

	// Reasoning, with bounded extra retrieval rounds.
	out, err := o.reasoner.Synthesize(ctx, text, conv.ActiveRepo, results, conv.Messages)
	if err != nil {
		return nil, err
	}
	for round := 0; round < maxExtraRetrievalRounds && out.MoreData != ""; round++ {
		slog.Info("Reasoning role requested more data", "session_id", conv.SessionID, "request", out.MoreData)
		q, err := o.retriever.ResolveQuery(ctx, out.MoreData)
		if err != nil {
			return nil, err
		}
		step := PlanStep{Description: out.MoreData, Query: *q}
		results = append(results, o.execute(ctx, conv, step, trace, &toolCalls))

		out, err = o.reasoner.Synthesize(ctx, text, conv.ActiveRepo, results, conv.Messages)
		if err != nil {
			return nil, err
		}
	}

	return o.finalize(ctx, conv, userText, out.Answer, out.Suggestions, toolCalls)
}

// execute runs one plan step through the retrieval role and records its
// tool-call trace. Failures are recorded as gaps, never aborts.
func (o *Orchestrator) execute(ctx context.Context, conv *domain.Conversation, step PlanStep, trace TraceFunc, toolCalls *[]domain.ToolCall) RetrievalResult {
	res := o.retriever.Execute(ctx, conv.ActiveRepo, step)

	call := domain.ToolCall{
		Name: string(res.Query.Kind),
		Args: queryArgs(res.Query),
		Summary: func() string {
			if res.IsGap() {
				return res.Detail
			}
			return firstLine(res.Payload)
		}(),
		Duration: res.Elapsed,
		Failed:   res.IsGap(),
	}
	*toolCalls = append(*toolCalls, call)
	if trace != nil {
		trace(call)
	}

	if res.IsGap() {
		slog.Warn("Retrieval gap recorded", "session_id", conv.SessionID,
			"kind", res.Query.Kind, "status", res.Status, "detail", res.Detail)
	}
	return res
}

// expandFanOut resolves a fan-out step against the most recent successful
// directory listing, producing at most maxFanOutFiles file fetches.
func expandFanOut(step PlanStep, results []RetrievalResult) []PlanStep {
	var listing *RetrievalResult
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Query.Kind == QueryDirectoryListing && !results[i].IsGap() {
			listing = &results[i]
			break
		}
	}
	if listing == nil {
		return nil
	}

	var steps []PlanStep
	for _, e := range listing.Entries {
		if e.Type != "file" {
			continue
		}
		if !fanOutMatches(step, e.Name) {
			continue
		}
		steps = append(steps, PlanStep{
			Description: "fetch " + e.Path,
			Query:       RetrievalQuery{Kind: QueryFileContent, Path: e.Path},
		})
		if len(steps) >= maxFanOutFiles {
			break
		}
	}
	return steps
}

func fanOutMatches(step PlanStep, name string) bool {
	lower := strings.ToLower(name)
	if step.FanOutSubstr != "" && strings.Contains(lower, strings.ToLower(step.FanOutSubstr)) {
		return true
	}
	for _, exact := range step.FanOutExact {
		if strings.EqualFold(name, exact) {
			return true
		}
	}
	return false
}

// finalize appends the turn to the transcript, overwrites the pending
// suggestions with this turn's set and commits the state. This is the only
// place session state mutates.
func (o *Orchestrator) finalize(ctx context.Context, conv *domain.Conversation, userText, answer string, suggestions []domain.Suggestion, toolCalls []domain.ToolCall) (*TurnResult, error) {
	now := time.Now()
	conv.AppendMessage(domain.Message{Role: domain.RoleUser, Content: userText, CreatedAt: now})
	conv.AppendMessage(domain.Message{Role: domain.RoleAssistant, Content: answer, ToolCalls: toolCalls, CreatedAt: now})
	conv.PendingSuggestions = suggestions
	conv.SuggestionsRepo = conv.ActiveRepo
	conv.LastRetrieved = lastPayload(toolCalls)

	if err := o.sessions.Commit(ctx, conv); err != nil {
		// The in-memory turn already succeeded; losing persistence only
		// costs resume-after-restart.
		slog.Warn("Failed to persist conversation", "session_id", conv.SessionID, "error", err)
	}

	return &TurnResult{
		Answer:      answer,
		Suggestions: suggestions,
		ToolCalls:   toolCalls,
	}, nil
}

func queryArgs(q RetrievalQuery) map[string]string {
	args := map[string]string{}
	if q.Path != "" {
		args["path"] = q.Path
	}
	if q.Pattern != "" {
		args["pattern"] = q.Pattern
	}
	if q.Ref != "" {
		args["ref"] = q.Ref
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func lastPayload(toolCalls []domain.ToolCall) string {
	for i := len(toolCalls) - 1; i >= 0; i-- {
		if !toolCalls[i].Failed {
			return toolCalls[i].Summary
		}
	}
	return ""
}
