package agent

import "testing"

func TestParseRetrievalQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want *RetrievalQuery
	}{
		{
			name: "pull requests",
			text: "summarize the recent pull requests",
			want: &RetrievalQuery{Kind: QueryPullRequests},
		},
		{
			name: "pull requests abbreviated",
			text: "list the open PRs",
			want: &RetrievalQuery{Kind: QueryPullRequests},
		},
		{
			name: "branches",
			text: "show the branches",
			want: &RetrievalQuery{Kind: QueryBranchListing},
		},
		{
			name: "issues",
			text: "list open issues",
			want: &RetrievalQuery{Kind: QueryIssueListing},
		},
		{
			name: "repository info",
			text: "get the repo info",
			want: &RetrievalQuery{Kind: QueryRepositoryInfo},
		},
		{
			name: "root listing",
			text: "show the root directory",
			want: &RetrievalQuery{Kind: QueryDirectoryListing},
		},
		{
			name: "root listing with repo reference",
			text: "list the root directory of agno-agi/agno",
			want: &RetrievalQuery{Kind: QueryDirectoryListing},
		},
		{
			name: "file content",
			text: "show me README.md",
			want: &RetrievalQuery{Kind: QueryFileContent, Path: "README.md"},
		},
		{
			name: "file content with path",
			text: "fetch cookbook/agents/basic.py please",
			want: &RetrievalQuery{Kind: QueryFileContent, Path: "cookbook/agents/basic.py"},
		},
		{
			name: "code search",
			text: "search for 'WebSocketHandler'",
			want: &RetrievalQuery{Kind: QueryCodeSearch, Pattern: "WebSocketHandler"},
		},
		{
			name: "code search unquoted",
			text: "search for retry logic in the repository",
			want: &RetrievalQuery{Kind: QueryCodeSearch, Pattern: "retry logic"},
		},
		{
			name: "directory with trailing slash",
			text: "list cookbook/agents/",
			want: &RetrievalQuery{Kind: QueryDirectoryListing, Path: "cookbook/agents"},
		},
		{
			name: "directory of",
			text: "show the files in the cookbook directory",
			want: &RetrievalQuery{Kind: QueryDirectoryListing, Path: "cookbook"},
		},
		{
			name: "directory stop word maps to root",
			text: "list the contents of the repository",
			want: &RetrievalQuery{Kind: QueryDirectoryListing},
		},
		{
			name: "analysis phrasing does not match",
			text: "explain the overall architecture",
			want: nil,
		},
		{
			name: "greeting does not match",
			text: "hello there",
			want: nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseRetrievalQuery(tt.text)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("ParseRetrievalQuery(%q) = %+v, want nil", tt.text, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseRetrievalQuery(%q) = nil, want %+v", tt.text, tt.want)
			}
			if got.Kind != tt.want.Kind || got.Path != tt.want.Path || got.Pattern != tt.want.Pattern {
				t.Errorf("ParseRetrievalQuery(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseRetrievalQueryIsDeterministic(t *testing.T) {
	t.Parallel()

	const text = "show me README.md"
	first := ParseRetrievalQuery(text)
	for i := 0; i < 10; i++ {
		got := ParseRetrievalQuery(text)
		if got == nil || *got != *first {
			t.Fatalf("run %d: got %+v, want %+v", i, got, first)
		}
	}
}
