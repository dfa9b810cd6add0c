package agent

import (
	"regexp"
	"strings"

	"github.com/repolens/repolens/internal/domain"
)

// maxFanOutFiles caps how many files a fan-out step may fetch from a listing.
const maxFanOutFiles = 5

var (
	reCountTask = regexp.MustCompile(`(?i)\b(?:count|how\s+many)\b\s+(.+?)\s*(?:\?|$)`)
	reInDir     = regexp.MustCompile(`(?i)\bin\s+(?:the\s+)?([\w./-]+?)/?\s*(?:directory|folder)?\s*[.!?]?$`)
	reOverview  = regexp.MustCompile(`(?i)\b(?:architecture|structure|workflow|overview|summar(?:y|ize|ise)|what\s+does|explain|describe|understand|walk\s+me\s+through)\b`)
	reDeps      = regexp.MustCompile(`(?i)\b(?:dependenc|librar|packages|requirements)\w*\b`)
)

// manifestNames are dependency manifests fetched for dependency questions.
var manifestNames = []string{
	"go.mod", "requirements.txt", "pyproject.toml", "package.json", "Cargo.toml", "pom.xml",
}

// BuildPlan decomposes a complex request into an ordered list of retrieval
// sub-steps. Recognized task patterns get targeted plans; anything else gets a
// single root-listing step so the reasoning role always has grounding data.
// Steps never reference a repository other than the active one, and a fan-out
// step is always ordered after the listing it expands against.
func BuildPlan(text string, history []domain.Message) *Plan {
	if repo := ExtractRepo(text); repo != "" {
		text = strings.ReplaceAll(text, "'"+repo+"'", "the repository")
		text = strings.ReplaceAll(text, repo, "the repository")
	}
	text = strings.TrimSpace(text)

	if m := reCountTask.FindStringSubmatch(text); m != nil {
		return countPlan(m[1], text, history)
	}
	if reDeps.MatchString(text) {
		return &Plan{Steps: []PlanStep{
			{
				Description: "list the repository root",
				Query:       RetrievalQuery{Kind: QueryDirectoryListing},
			},
			{
				Description: "fetch dependency manifests",
				FanOutExact: manifestNames,
			},
		}}
	}
	if reOverview.MatchString(text) {
		return &Plan{Steps: []PlanStep{
			{
				Description: "fetch repository metadata",
				Query:       RetrievalQuery{Kind: QueryRepositoryInfo},
			},
			{
				Description: "list the repository root",
				Query:       RetrievalQuery{Kind: QueryDirectoryListing},
			},
			{
				Description: "fetch README.md",
				Query:       RetrievalQuery{Kind: QueryFileContent, Path: "README.md"},
			},
		}}
	}

	// Safe default: root listing.
	return &Plan{Steps: []PlanStep{
		{
			Description: "list the repository root",
			Query:       RetrievalQuery{Kind: QueryDirectoryListing},
		},
	}}
}

// countPlan handles "count X" / "how many X" requests: list the target
// directory, fetch candidate files naming the subject, and search code for it.
// When the current text names no directory, the most recent one mentioned in
// the conversation carries over.
func countPlan(subject, text string, history []domain.Message) *Plan {
	dir := ""
	if m := reInDir.FindStringSubmatch(text); m != nil {
		if _, stop := dirStopWords[strings.ToLower(m[1])]; !stop {
			dir = strings.Trim(m[1], "/")
		}
	}
	if dir == "" {
		dir = carryOverDir(history)
	}
	kw := subjectKeyword(subject)

	steps := []PlanStep{
		{
			Description: "list " + dirLabel(dir),
			Query:       RetrievalQuery{Kind: QueryDirectoryListing, Path: dir},
		},
	}
	if kw != "" {
		steps = append(steps,
			PlanStep{
				Description:  "fetch candidate " + kw + " files",
				FanOutSubstr: kw,
			},
			PlanStep{
				Description: "search code for " + kw,
				Query:       RetrievalQuery{Kind: QueryCodeSearch, Pattern: kw},
			},
		)
	}
	return &Plan{Steps: steps}
}

// subjectFillerWords are trailing words in a counted subject that never name
// the subject itself ("how many agents are there" counts agents, not "there").
var subjectFillerWords = map[string]struct{}{
	"are": {}, "is": {}, "there": {}, "do": {}, "does": {}, "we": {},
	"have": {}, "has": {}, "exist": {}, "the": {}, "a": {}, "an": {},
	"this": {}, "that": {}, "it": {},
}

// subjectKeyword reduces a counted subject ("AGNO agents are in agents/") to
// a single lowercase singular keyword ("agent").
func subjectKeyword(subject string) string {
	subject = strings.ToLower(subject)
	if idx := strings.Index(subject, " in "); idx >= 0 {
		subject = subject[:idx]
	}
	words := strings.Fields(subject)
	for i := len(words) - 1; i >= 0; i-- {
		kw := strings.Trim(words[i], `"'.,!?`)
		if _, filler := subjectFillerWords[kw]; filler {
			continue
		}
		kw = strings.TrimSuffix(kw, "s")
		if len(kw) < 3 {
			return ""
		}
		return kw
	}
	return ""
}

// carryOverDir finds the most recent directory mentioned in prior user
// messages ("... in agents/").
func carryOverDir(history []domain.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != domain.RoleUser {
			continue
		}
		if m := reInDir.FindStringSubmatch(history[i].Content); m != nil {
			if _, stop := dirStopWords[strings.ToLower(m[1])]; !stop {
				return strings.Trim(m[1], "/")
			}
		}
	}
	return ""
}

func dirLabel(dir string) string {
	if dir == "" {
		return "the repository root"
	}
	return dir + "/"
}
