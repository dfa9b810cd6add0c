package agent

import (
	"regexp"
	"strings"
)

// Rule table mapping natural-language data requests onto the closed query-kind
// set. Kept as explicit regexps rather than prompt text so classification and
// parsing stay deterministic and unit-testable.
var (
	rePullRequests = regexp.MustCompile(`(?i)\b(?:list|show|get|fetch|summarize)\b.*\b(?:pull\s+requests?|prs?)\b`)
	reBranches     = regexp.MustCompile(`(?i)\b(?:list|show|get|fetch)\b.*\bbranch(?:es)?\b`)
	reIssues       = regexp.MustCompile(`(?i)\b(?:list|show|get|fetch)\b.*\bissues?\b`)
	reRepoInfo     = regexp.MustCompile(`(?i)\brepo(?:sitory)?\s+(?:info|information|metadata|details)\b`)
	reRootDir      = regexp.MustCompile(`(?i)\b(?:list|show)\b.*\broot\s+directory\b`)
	reFileContent  = regexp.MustCompile(`(?i)\b(?:show|get|fetch|open|read|display)\b.*?\b([\w./-]*\w\.\w+)\b`)
	reCodeSearch   = regexp.MustCompile(`(?i)\bsearch\b(?:\s+for)?\s+(?:code\s+)?(?:containing\s+|related\s+to\s+|for\s+)?['"]?([^'"]+?)['"]?\s*(?:\s+in\s+the\s+repository)?\s*$`)
	reDirOf        = regexp.MustCompile(`(?i)\b(?:list|show)\b(?:\s+\S+)*?\s+(?:in|of)\s+(?:the\s+)?([\w./-]+?)/?\s*(?:directory|folder)?\s*[.!?]?$`)
	reDirBare      = regexp.MustCompile(`(?i)\b(?:list|show)\s+(?:the\s+)?([\w./-]+)/\s*[.!?]?$`)
	reDirWords     = regexp.MustCompile(`(?i)\b(?:files?|contents?|entries|directory|folder)\b`)
)

// dirStopWords are captures from reDirOf that name the repository itself, not
// a path within it.
var dirStopWords = map[string]struct{}{
	"repository": {},
	"repo":       {},
	"project":    {},
	"root":       {},
}

// ParseRetrievalQuery maps a natural-language data request onto one retrieval
// query. It returns nil when no rule matches; callers fall back to either the
// planner (classifier) or an LLM tool proposal (retrieval role).
//
// Repository references in the text are neutralized first so "list the root
// directory of owner/name" parses as a root listing rather than a path fetch.
func ParseRetrievalQuery(text string) *RetrievalQuery {
	if repo := ExtractRepo(text); repo != "" {
		text = strings.ReplaceAll(text, "'"+repo+"'", "the repository")
		text = strings.ReplaceAll(text, repo, "the repository")
	}
	text = strings.TrimSpace(text)

	switch {
	case rePullRequests.MatchString(text):
		return &RetrievalQuery{Kind: QueryPullRequests}
	case reBranches.MatchString(text):
		return &RetrievalQuery{Kind: QueryBranchListing}
	case reIssues.MatchString(text):
		return &RetrievalQuery{Kind: QueryIssueListing}
	case reRepoInfo.MatchString(text):
		return &RetrievalQuery{Kind: QueryRepositoryInfo}
	case reRootDir.MatchString(text):
		return &RetrievalQuery{Kind: QueryDirectoryListing, Path: ""}
	}

	if m := reFileContent.FindStringSubmatch(text); m != nil {
		return &RetrievalQuery{Kind: QueryFileContent, Path: m[1]}
	}
	if m := reCodeSearch.FindStringSubmatch(text); m != nil {
		pattern := strings.TrimSpace(m[1])
		if pattern != "" {
			return &RetrievalQuery{Kind: QueryCodeSearch, Pattern: pattern}
		}
	}
	if m := reDirBare.FindStringSubmatch(text); m != nil {
		return &RetrievalQuery{Kind: QueryDirectoryListing, Path: strings.Trim(m[1], "/")}
	}
	if m := reDirOf.FindStringSubmatch(text); m != nil {
		path := strings.Trim(m[1], "/")
		if _, stop := dirStopWords[strings.ToLower(path)]; stop {
			return &RetrievalQuery{Kind: QueryDirectoryListing, Path: ""}
		}
		// Only treat the request as a listing when it actually asks for
		// files or contents; "show me X of Y" alone is too ambiguous.
		if reDirWords.MatchString(text) {
			return &RetrievalQuery{Kind: QueryDirectoryListing, Path: path}
		}
	}

	return nil
}
