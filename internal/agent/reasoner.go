package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/repolens/repolens/internal/domain"
	"github.com/repolens/repolens/internal/llm"
)

// maxSuggestions caps the follow-up descriptors kept from one reasoning call.
const maxSuggestions = 3

// historyWindow is how many transcript entries are carried into the
// reasoning prompt.
const historyWindow = 12

// ReasonerOutput is one reasoning-role result: the synthesized answer, the
// follow-up descriptors, and optionally one "need more data" request the
// orchestrator may turn into an extra retrieval round.
type ReasonerOutput struct {
	Answer      string
	Suggestions []domain.Suggestion
	MoreData    string
}

// Reasoner is the reasoning role. It has no direct tool access; additional
// retrieval goes through the orchestrator via the MoreData signal.
type Reasoner struct {
	completer llm.Completer
	model     string
}

// NewReasoner creates the reasoning role.
func NewReasoner(completer llm.Completer, model string) *Reasoner {
	return &Reasoner{completer: completer, model: model}
}

// Synthesize produces an answer for the question from the gathered retrieval
// results. Gaps are rendered as MISSING evidence the model must acknowledge.
// A backend failure here is fatal to the turn and propagates verbatim.
func (r *Reasoner) Synthesize(ctx context.Context, question, repo string, results []RetrievalResult, history []domain.Message) (*ReasonerOutput, error) {
	messages := []llm.Message{{Role: "system", Content: reasoningSystemPrompt}}

	recent := history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	for _, m := range recent {
		role := string(m.Role)
		if role != "user" && role != "assistant" {
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}

	messages = append(messages, llm.Message{Role: "user", Content: buildEvidencePrompt(question, repo, results)})

	completion, err := r.completer.Complete(ctx, llm.Request{
		Model:       r.model,
		Messages:    messages,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning role: %w", err)
	}

	return parseReasonerOutput(completion.Content), nil
}

func buildEvidencePrompt(question, repo string, results []RetrievalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\nQuestion: %s\n", repo, question)

	if len(results) == 0 {
		b.WriteString("\nNo repository data was retrieved for this question.\n")
		return b.String()
	}

	for _, res := range results {
		if res.IsGap() {
			fmt.Fprintf(&b, "\nMISSING (%s): %s\n", res.Description, res.Detail)
			continue
		}
		fmt.Fprintf(&b, "\nEVIDENCE (%s):\n%s\n", res.Description, res.Payload)
	}
	return b.String()
}

// Reasoning models wrap chain-of-thought in think tags; that text is not part
// of the answer.
var thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

const (
	followUpPrefix = "FOLLOW-UP:"
	retrievePrefix = "RETRIEVE:"
)

// parseReasonerOutput splits the model text into answer, follow-up
// suggestions and the optional retrieve-more directive. The parse is
// deterministic: directive lines are recognized by prefix, everything else is
// answer text.
func parseReasonerOutput(content string) *ReasonerOutput {
	content = thinkBlockPattern.ReplaceAllString(content, "")

	out := &ReasonerOutput{}
	var answerLines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		switch {
		case strings.HasPrefix(trimmed, followUpPrefix):
			text := strings.TrimSpace(strings.TrimPrefix(trimmed, followUpPrefix))
			if text != "" && len(out.Suggestions) < maxSuggestions {
				out.Suggestions = append(out.Suggestions, domain.Suggestion{Text: text})
			}
		case strings.HasPrefix(trimmed, retrievePrefix):
			if out.MoreData == "" {
				out.MoreData = strings.TrimSpace(strings.TrimPrefix(trimmed, retrievePrefix))
			}
		default:
			answerLines = append(answerLines, line)
		}
	}
	out.Answer = strings.TrimSpace(strings.Join(answerLines, "\n"))
	return out
}
