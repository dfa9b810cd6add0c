package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/repolens/repolens/internal/githubapi"
	"github.com/repolens/repolens/internal/llm"
)

// fakeRepoAPI is an in-memory RepoAPI. Paths map to listings or file bodies;
// anything else is NotFound.
type fakeRepoAPI struct {
	mu       sync.Mutex
	listings map[string][]githubapi.DirEntry
	files    map[string]string
	searches map[string][]githubapi.SearchMatch
	info     *githubapi.RepoInfo
	err      error // overrides every call when set
	calls    []string
}

func newFakeRepoAPI() *fakeRepoAPI {
	return &fakeRepoAPI{
		listings: map[string][]githubapi.DirEntry{},
		files:    map[string]string{},
		searches: map[string][]githubapi.SearchMatch{},
		info:     &githubapi.RepoInfo{FullName: "agno-agi/agno", DefaultBranch: "main"},
	}
}

func (f *fakeRepoAPI) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeRepoAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRepoAPI) GetRepository(ctx context.Context, repo string) (*githubapi.RepoInfo, error) {
	if err := f.record("repository_info"); err != nil {
		return nil, err
	}
	return f.info, nil
}

func (f *fakeRepoAPI) GetDirectoryContent(ctx context.Context, repo, path, ref string) ([]githubapi.DirEntry, error) {
	if err := f.record(fmt.Sprintf("directory_listing:%s@%s", path, ref)); err != nil {
		return nil, err
	}
	if ref != "" && ref != "main" {
		return nil, githubapi.ErrNotFound
	}
	entries, ok := f.listings[path]
	if !ok {
		return nil, githubapi.ErrNotFound
	}
	return entries, nil
}

func (f *fakeRepoAPI) GetFileContent(ctx context.Context, repo, path, ref string) (string, error) {
	if err := f.record("file_content:" + path); err != nil {
		return "", err
	}
	content, ok := f.files[path]
	if !ok {
		return "", githubapi.ErrNotFound
	}
	return content, nil
}

func (f *fakeRepoAPI) SearchCode(ctx context.Context, repo, query string) ([]githubapi.SearchMatch, error) {
	if err := f.record("code_search:" + query); err != nil {
		return nil, err
	}
	return f.searches[query], nil
}

func (f *fakeRepoAPI) ListPullRequests(ctx context.Context, repo, state string, limit int) ([]githubapi.PullRequest, error) {
	if err := f.record("pull_request_listing"); err != nil {
		return nil, err
	}
	return []githubapi.PullRequest{{Number: 7, Title: "Add retries", State: "open"}}, nil
}

func (f *fakeRepoAPI) ListBranches(ctx context.Context, repo string) ([]githubapi.Branch, error) {
	if err := f.record("branch_listing"); err != nil {
		return nil, err
	}
	return []githubapi.Branch{{Name: "main"}}, nil
}

func (f *fakeRepoAPI) ListIssues(ctx context.Context, repo, state string, limit int) ([]githubapi.Issue, error) {
	if err := f.record("issue_listing"); err != nil {
		return nil, err
	}
	return []githubapi.Issue{{Number: 12, Title: "Crash on empty input", State: "open"}}, nil
}

// fakeCompleter replays scripted completions and records every request.
type fakeCompleter struct {
	mu       sync.Mutex
	replies  []*llm.Completion
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return &llm.Completion{Content: "done"}, nil
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeCompleter) lastRequest() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeCompleter) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func toolReply(name, args string) *llm.Completion {
	var call llm.ToolCall
	call.ID = "call_1"
	call.Type = "function"
	call.Function.Name = name
	call.Function.Arguments = args
	return &llm.Completion{ToolCalls: []llm.ToolCall{call}}
}

func TestResolveQueryPrefersRuleTable(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{}
	r := NewRetriever(newFakeRepoAPI(), completer, "test-model")

	q, err := r.ResolveQuery(context.Background(), "show me README.md")
	if err != nil {
		t.Fatalf("ResolveQuery failed: %v", err)
	}
	if q.Kind != QueryFileContent || q.Path != "README.md" {
		t.Errorf("query = %+v", q)
	}
	if completer.requestCount() != 0 {
		t.Errorf("rule-resolvable request reached the model (%d calls)", completer.requestCount())
	}
}

func TestResolveQueryModelProposal(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{replies: []*llm.Completion{
		toolReply("file_content", `{"path": "docs/setup.md"}`),
	}}
	r := NewRetriever(newFakeRepoAPI(), completer, "test-model")

	q, err := r.ResolveQuery(context.Background(), "I'd love to peek at the setup docs")
	if err != nil {
		t.Fatalf("ResolveQuery failed: %v", err)
	}
	if q.Kind != QueryFileContent || q.Path != "docs/setup.md" {
		t.Errorf("query = %+v", q)
	}
}

func TestResolveQueryRejectsUnknownTool(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{replies: []*llm.Completion{
		toolReply("delete_repository", `{}`),
	}}
	r := NewRetriever(newFakeRepoAPI(), completer, "test-model")

	q, err := r.ResolveQuery(context.Background(), "something the rules cannot parse")
	if err != nil {
		t.Fatalf("ResolveQuery failed: %v", err)
	}
	// Unknown proposals are discarded; the safe default is a root listing.
	if q.Kind != QueryDirectoryListing || q.Path != "" {
		t.Errorf("query = %+v, want root listing", q)
	}
}

func TestExecuteListing(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	api.listings[""] = []githubapi.DirEntry{
		{Name: "cookbook", Path: "cookbook", Type: "dir"},
		{Name: "README.md", Path: "README.md", Type: "file", Size: 1200},
	}
	r := NewRetriever(api, &fakeCompleter{}, "test-model")

	res := r.Execute(context.Background(), "agno-agi/agno", PlanStep{
		Description: "list the repository root",
		Query:       RetrievalQuery{Kind: QueryDirectoryListing},
	})
	if res.IsGap() {
		t.Fatalf("unexpected gap: %+v", res)
	}
	if !strings.Contains(res.Payload, "README.md") || !strings.Contains(res.Payload, "cookbook/") {
		t.Errorf("payload missing entries:\n%s", res.Payload)
	}
	if len(res.Entries) != 2 {
		t.Errorf("entries = %d, want 2", len(res.Entries))
	}
}

func TestExecuteRetriesWithoutBadRef(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	api.listings["src"] = []githubapi.DirEntry{{Name: "main.go", Path: "src/main.go", Type: "file"}}
	r := NewRetriever(api, &fakeCompleter{}, "test-model")

	res := r.Execute(context.Background(), "agno-agi/agno", PlanStep{
		Query: RetrievalQuery{Kind: QueryDirectoryListing, Path: "src", Ref: "no-such-branch"},
	})
	if res.IsGap() {
		t.Fatalf("expected ref-less retry to succeed, got %+v", res)
	}
	if res.Query.Ref != "" {
		t.Errorf("result query kept the bad ref: %+v", res.Query)
	}
}

func TestExecuteCaseInsensitiveFallback(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	api.listings[""] = []githubapi.DirEntry{{Name: "Readme.md", Path: "Readme.md", Type: "file"}}
	api.files["Readme.md"] = "# Agno"
	r := NewRetriever(api, &fakeCompleter{}, "test-model")

	res := r.Execute(context.Background(), "agno-agi/agno", PlanStep{
		Query: RetrievalQuery{Kind: QueryFileContent, Path: "README.md"},
	})
	if res.IsGap() {
		t.Fatalf("expected case-insensitive fallback to succeed, got %+v", res)
	}
	if !strings.Contains(res.Payload, "# Agno") {
		t.Errorf("payload = %q", res.Payload)
	}
}

func TestExecuteNotFoundBecomesGap(t *testing.T) {
	t.Parallel()

	r := NewRetriever(newFakeRepoAPI(), &fakeCompleter{}, "test-model")

	res := r.Execute(context.Background(), "agno-agi/agno", PlanStep{
		Query: RetrievalQuery{Kind: QueryFileContent, Path: "no/such/file.txt"},
	})
	if !res.IsGap() || res.Status != StatusNotFound {
		t.Fatalf("result = %+v, want not_found gap", res)
	}
	if res.Detail == "" {
		t.Error("gap carries no detail")
	}
}

func TestExecuteExternalErrorBecomesGap(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	api.err = errors.New("github: 500 internal error")
	r := NewRetriever(api, &fakeCompleter{}, "test-model")

	res := r.Execute(context.Background(), "agno-agi/agno", PlanStep{
		Query: RetrievalQuery{Kind: QueryDirectoryListing},
	})
	if !res.IsGap() || res.Status != StatusError {
		t.Fatalf("result = %+v, want error gap", res)
	}
	// External errors get no retry.
	if api.callCount() != 1 {
		t.Errorf("call count = %d, want 1", api.callCount())
	}
}

func TestExecuteTruncatesLargeFiles(t *testing.T) {
	t.Parallel()

	api := newFakeRepoAPI()
	api.files["big.txt"] = strings.Repeat("x", maxPayloadBytes*2)
	r := NewRetriever(api, &fakeCompleter{}, "test-model")

	res := r.Execute(context.Background(), "agno-agi/agno", PlanStep{
		Query: RetrievalQuery{Kind: QueryFileContent, Path: "big.txt"},
	})
	if res.IsGap() {
		t.Fatalf("unexpected gap: %+v", res)
	}
	if len(res.Payload) > maxPayloadBytes+200 {
		t.Errorf("payload not truncated: %d bytes", len(res.Payload))
	}
	if !strings.Contains(res.Payload, "[truncated]") {
		t.Error("truncation marker missing")
	}
}

func TestQueryFromToolCallValidation(t *testing.T) {
	t.Parallel()

	if _, err := queryFromToolCall(toolReply("file_content", `{}`).ToolCalls[0]); err == nil {
		t.Error("file_content without a path must be rejected")
	}
	if _, err := queryFromToolCall(toolReply("code_search", `{"pattern": ""}`).ToolCalls[0]); err == nil {
		t.Error("code_search without a pattern must be rejected")
	}
	if _, err := queryFromToolCall(toolReply("rm_rf", `{}`).ToolCalls[0]); err == nil {
		t.Error("unknown kind must be rejected")
	}

	q, err := queryFromToolCall(toolReply("directory_listing", `{"path": "/cookbook/"}`).ToolCalls[0])
	if err != nil {
		t.Fatalf("valid proposal rejected: %v", err)
	}
	if q.Path != "cookbook" {
		t.Errorf("path = %q, want cookbook (slashes trimmed)", q.Path)
	}
}
