package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/repolens/repolens/internal/githubapi"
	"github.com/repolens/repolens/internal/llm"
)

// maxPayloadBytes caps how much of a fetched file is carried into the
// reasoning prompt.
const maxPayloadBytes = 8192

// RepoAPI is the slice of the GitHub client the retrieval role uses.
type RepoAPI interface {
	GetRepository(ctx context.Context, repo string) (*githubapi.RepoInfo, error)
	GetDirectoryContent(ctx context.Context, repo, path, ref string) ([]githubapi.DirEntry, error)
	GetFileContent(ctx context.Context, repo, path, ref string) (string, error)
	SearchCode(ctx context.Context, repo, query string) ([]githubapi.SearchMatch, error)
	ListPullRequests(ctx context.Context, repo, state string, limit int) ([]githubapi.PullRequest, error)
	ListBranches(ctx context.Context, repo string) ([]githubapi.Branch, error)
	ListIssues(ctx context.Context, repo, state string, limit int) ([]githubapi.Issue, error)
}

// Retriever is the retrieval role: it turns one data request into one
// validated call against the repository data-access API. It never mutates
// session state; the orchestrator does.
type Retriever struct {
	api       RepoAPI
	completer llm.Completer
	model     string
}

// NewRetriever creates the retrieval role.
func NewRetriever(api RepoAPI, completer llm.Completer, model string) *Retriever {
	return &Retriever{api: api, completer: completer, model: model}
}

// ResolveQuery parses a natural-language data request into a retrieval query.
// The rule table is tried first; when it does not match, the model is asked
// to propose a tool call, which is validated like any planner-generated step.
// When even the model proposes nothing usable, the repository root listing is
// the safe default.
func (r *Retriever) ResolveQuery(ctx context.Context, request string) (*RetrievalQuery, error) {
	if q := ParseRetrievalQuery(request); q != nil {
		return q, nil
	}

	completion, err := r.completer.Complete(ctx, llm.Request{
		Model: r.model,
		Messages: []llm.Message{
			{Role: "system", Content: retrievalSystemPrompt},
			{Role: "user", Content: request},
		},
		Tools:       queryToolSet(),
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve retrieval query: %w", err)
	}

	for _, call := range completion.ToolCalls {
		q, err := queryFromToolCall(call)
		if err != nil {
			slog.Warn("Rejected tool proposal", "tool", call.Function.Name, "error", err)
			continue
		}
		return q, nil
	}

	slog.Debug("No usable tool proposal, defaulting to root listing", "request", request)
	return &RetrievalQuery{Kind: QueryDirectoryListing}, nil
}

// Execute runs one retrieval query against the active repository. NotFound
// gets exactly one bounded fallback before it surfaces as a gap; external
// errors surface immediately with no retry.
func (r *Retriever) Execute(ctx context.Context, repo string, step PlanStep) RetrievalResult {
	start := time.Now()
	result := RetrievalResult{
		Description: step.Description,
		Query:       step.Query,
	}

	payload, entries, err := r.run(ctx, repo, step.Query)
	if err != nil && errors.Is(err, githubapi.ErrNotFound) {
		if fq, ok := r.fallbackQuery(ctx, repo, step.Query); ok {
			result.Query = *fq
			payload, entries, err = r.run(ctx, repo, *fq)
		}
	}

	result.Elapsed = time.Since(start)
	switch {
	case err == nil:
		result.Status = StatusOK
		result.Payload = payload
		result.Entries = entries
	case errors.Is(err, githubapi.ErrNotFound):
		result.Status = StatusNotFound
		result.Detail = describeTarget(step.Query) + " was not found"
	default:
		result.Status = StatusError
		result.Detail = err.Error()
	}
	return result
}

func (r *Retriever) run(ctx context.Context, repo string, q RetrievalQuery) (string, []githubapi.DirEntry, error) {
	switch q.Kind {
	case QueryDirectoryListing:
		entries, err := r.api.GetDirectoryContent(ctx, repo, q.Path, q.Ref)
		if err != nil {
			return "", nil, err
		}
		return renderListing(q.Path, entries), entries, nil

	case QueryFileContent:
		content, err := r.api.GetFileContent(ctx, repo, q.Path, q.Ref)
		if err != nil {
			return "", nil, err
		}
		if len(content) > maxPayloadBytes {
			content = content[:maxPayloadBytes] + "\n... [truncated]"
		}
		return fmt.Sprintf("Contents of %s:\n%s", q.Path, content), nil, nil

	case QueryCodeSearch:
		matches, err := r.api.SearchCode(ctx, repo, q.Pattern)
		if err != nil {
			return "", nil, err
		}
		return renderSearch(q.Pattern, matches), nil, nil

	case QueryPullRequests:
		prs, err := r.api.ListPullRequests(ctx, repo, "all", 20)
		if err != nil {
			return "", nil, err
		}
		return renderPullRequests(prs), nil, nil

	case QueryRepositoryInfo:
		info, err := r.api.GetRepository(ctx, repo)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Repository %s: %s (language: %s, default branch: %s, stars: %d, open issues: %d)",
			info.FullName, info.Description, info.Language, info.DefaultBranch, info.Stars, info.OpenIssues), nil, nil

	case QueryBranchListing:
		branches, err := r.api.ListBranches(ctx, repo)
		if err != nil {
			return "", nil, err
		}
		names := make([]string, len(branches))
		for i, b := range branches {
			names[i] = b.Name
		}
		return "Branches: " + strings.Join(names, ", "), nil, nil

	case QueryIssueListing:
		issues, err := r.api.ListIssues(ctx, repo, "open", 20)
		if err != nil {
			return "", nil, err
		}
		return renderIssues(issues), nil, nil
	}

	return "", nil, fmt.Errorf("unknown query kind %q", q.Kind)
}

// fallbackQuery computes the single bounded NotFound fallback: directory
// listings with a ref retry without it (invalid refs are a known failure
// mode), ref-less paths retry a case-insensitive match against the parent
// listing.
func (r *Retriever) fallbackQuery(ctx context.Context, repo string, q RetrievalQuery) (*RetrievalQuery, bool) {
	switch q.Kind {
	case QueryDirectoryListing, QueryFileContent:
	default:
		return nil, false
	}

	if q.Ref != "" {
		slog.Warn("Invalid ref, retrying without it", "repo", repo, "path", q.Path, "ref", q.Ref)
		fq := q
		fq.Ref = ""
		return &fq, true
	}
	if q.Path == "" {
		return nil, false
	}

	parent := path.Dir(q.Path)
	if parent == "." {
		parent = ""
	}
	entries, err := r.api.GetDirectoryContent(ctx, repo, parent, "")
	if err != nil {
		return nil, false
	}
	want := strings.ToLower(path.Base(q.Path))
	for _, e := range entries {
		if strings.ToLower(e.Name) == want {
			fq := q
			fq.Path = e.Path
			return &fq, true
		}
	}
	return nil, false
}

func describeTarget(q RetrievalQuery) string {
	switch q.Kind {
	case QueryDirectoryListing:
		if q.Path == "" {
			return "the repository root"
		}
		return "directory " + q.Path + "/"
	case QueryFileContent:
		return "file " + q.Path
	case QueryCodeSearch:
		return "code matching " + q.Pattern
	default:
		return string(q.Kind)
	}
}

func renderListing(dir string, entries []githubapi.DirEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Listing of %s (%d entries):\n", dirLabel(dir), len(entries))
	for _, e := range entries {
		if e.Type == "dir" {
			fmt.Fprintf(&b, "- %s/ (dir)\n", e.Name)
		} else {
			fmt.Fprintf(&b, "- %s (file, %d bytes)\n", e.Name, e.Size)
		}
	}
	return b.String()
}

func renderSearch(pattern string, matches []githubapi.SearchMatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Code search for %q: %d matches\n", pattern, len(matches))
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s\n", m.Path)
	}
	return b.String()
}

func renderPullRequests(prs []githubapi.PullRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pull requests (%d):\n", len(prs))
	for _, pr := range prs {
		fmt.Fprintf(&b, "- #%d [%s] %s (by %s)\n", pr.Number, pr.State, pr.Title, pr.User.Login)
	}
	return b.String()
}

func renderIssues(issues []githubapi.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Open issues (%d):\n", len(issues))
	for _, is := range issues {
		fmt.Fprintf(&b, "- #%d [%s] %s\n", is.Number, is.State, is.Title)
	}
	return b.String()
}

// queryToolSet declares one tool per query kind for the model's proposal.
func queryToolSet() []llm.Tool {
	pathParams := json.RawMessage(`{"type": "object", "properties": {"path": {"type": "string", "description": "path relative to the repository root, empty for the root"}}, "required": ["path"]}`)
	patternParams := json.RawMessage(`{"type": "object", "properties": {"pattern": {"type": "string", "description": "code pattern to search for"}}, "required": ["pattern"]}`)
	emptyParams := json.RawMessage(`{"type": "object", "properties": {}}`)

	decl := func(kind QueryKind, desc string, params json.RawMessage) llm.Tool {
		return llm.Tool{Type: "function", Function: llm.ToolFunction{
			Name:        string(kind),
			Description: desc,
			Parameters:  params,
		}}
	}

	return []llm.Tool{
		decl(QueryDirectoryListing, "List the entries of a directory", pathParams),
		decl(QueryFileContent, "Fetch the contents of a file", pathParams),
		decl(QueryCodeSearch, "Search the repository's code", patternParams),
		decl(QueryPullRequests, "List recent pull requests", emptyParams),
		decl(QueryRepositoryInfo, "Fetch repository metadata", emptyParams),
		decl(QueryBranchListing, "List branches", emptyParams),
		decl(QueryIssueListing, "List open issues", emptyParams),
	}
}

// queryFromToolCall validates a model tool proposal against the closed query
// set. Unknown kinds and malformed arguments are rejected.
func queryFromToolCall(call llm.ToolCall) (*RetrievalQuery, error) {
	kind := QueryKind(call.Function.Name)
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown query kind %q", call.Function.Name)
	}

	var args struct {
		Path    string `json:"path"`
		Pattern string `json:"pattern"`
	}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("decode tool arguments: %w", err)
		}
	}

	q := &RetrievalQuery{Kind: kind}
	switch kind {
	case QueryDirectoryListing, QueryFileContent:
		q.Path = strings.Trim(strings.TrimSpace(args.Path), "/")
		if kind == QueryFileContent && q.Path == "" {
			return nil, fmt.Errorf("file_content requires a path")
		}
	case QueryCodeSearch:
		q.Pattern = strings.TrimSpace(args.Pattern)
		if q.Pattern == "" {
			return nil, fmt.Errorf("code_search requires a pattern")
		}
	}
	return q, nil
}
