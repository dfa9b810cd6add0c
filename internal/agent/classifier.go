package agent

import (
	"regexp"
	"strings"

	"github.com/repolens/repolens/internal/domain"
)

// affirmationVocab is the fixed vocabulary of short affirmative replies that
// resolve against the previous turn's suggestions.
var affirmationVocab = map[string]struct{}{
	"yes":         {},
	"yep":         {},
	"yeah":        {},
	"y":           {},
	"sure":        {},
	"ok":          {},
	"okay":        {},
	"please":      {},
	"please do":   {},
	"go ahead":    {},
	"do it":       {},
	"sounds good": {},
	"why not":     {},
}

// analysisKeywords mark requests that need synthesis across multiple data
// points rather than a single fetch.
var analysisKeywords = []string{
	"why", "how", "explain", "describe", "understand", "analyze", "analyse",
	"architecture", "structure", "workflow", "count", "compare", "summarize",
	"summarise", "overview", "what does", "walk me through",
}

var repoPattern = regexp.MustCompile(`\b([A-Za-z0-9](?:[A-Za-z0-9_-]*[A-Za-z0-9])?)/([A-Za-z0-9._-]+)\b`)

// fileExtensions disqualify an owner/name match that is actually a file path.
var fileExtensions = map[string]struct{}{
	".py": {}, ".go": {}, ".md": {}, ".js": {}, ".ts": {}, ".txt": {},
	".yaml": {}, ".yml": {}, ".json": {}, ".toml": {}, ".rs": {}, ".java": {},
	".c": {}, ".h": {}, ".sh": {}, ".html": {}, ".css": {}, ".cfg": {},
}

// ExtractRepo returns the first owner/name repository reference in text, or
// an empty string. The extracted token is used exactly as written; file paths
// (a trailing extension) are not treated as repository references.
func ExtractRepo(text string) string {
	for _, m := range repoPattern.FindAllStringSubmatch(text, -1) {
		name := m[2]
		if dot := strings.LastIndex(name, "."); dot >= 0 {
			if _, isFile := fileExtensions[strings.ToLower(name[dot:])]; isFile {
				continue
			}
		}
		return m[1] + "/" + name
	}
	return ""
}

// Classify decides the routing class for one incoming message. It is a total
// function: any input that fits neither the affirmation vocabulary nor the
// single-fetch rule table degrades to complex analysis, letting the reasoning
// role request its own clarification.
func Classify(text string, conv *domain.Conversation) RouteClass {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.Trim(normalized, ".!?, ")

	// An explicit new-content signal (a repository reference) wins over an
	// affirmation reading.
	if _, ok := affirmationVocab[normalized]; ok &&
		len(conv.PendingSuggestions) > 0 && ExtractRepo(text) == "" {
		return RouteFollowUpAffirmation
	}

	if hasAnalysisLanguage(normalized) {
		return RouteComplexAnalysis
	}
	if ParseRetrievalQuery(text) != nil {
		return RouteSimpleRetrieval
	}
	return RouteComplexAnalysis
}

func hasAnalysisLanguage(normalized string) bool {
	for _, kw := range analysisKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}
