// ghdebug probes GitHub connectivity: token validity, rate limit, and
// optionally one end-to-end retrieval against a repository.
//
// Usage:
//
//	ghdebug                                    # token + rate limit
//	ghdebug -repo owner/name                   # + metadata and root listing
//	ghdebug -repo owner/name -ask "show go.mod" # + one resolved retrieval
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/repolens/repolens/internal/agent"
	"github.com/repolens/repolens/internal/githubapi"
	"github.com/repolens/repolens/internal/llm"
)

func main() {
	repo := flag.String("repo", "", "repository to probe, owner/name")
	ask := flag.String("ask", "", "natural-language retrieval request to run against -repo")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded .env")
	}

	token := os.Getenv("GITHUB_ACCESS_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "GITHUB_ACCESS_TOKEN is not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := githubapi.NewClient(token)

	login, err := client.AuthenticatedUser(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("authenticated as %s\n", login)

	remaining, limit, err := client.RateLimit(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rate limit check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("rate limit: %d/%d remaining\n", remaining, limit)

	if *repo == "" {
		return
	}

	info, err := client.GetRepository(ctx, *repo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "repository fetch failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("repository: %s (default branch %s, language %s, %d stars)\n",
		info.FullName, info.DefaultBranch, info.Language, info.Stars)

	entries, err := client.GetDirectoryContent(ctx, *repo, "", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "root listing failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("root listing: %d entries\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  %s (%s)\n", e.Name, e.Type)
	}

	if *ask == "" {
		return
	}

	// Run one retrieval end-to-end. Groq credentials are only needed when
	// the rule table cannot parse the request and the model must resolve it.
	groq := llm.NewClient(
		os.Getenv("GROQ_API_KEY"),
		envOr("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		time.Minute,
	)
	retriever := agent.NewRetriever(client, groq, envOr("RETRIEVAL_MODEL", "meta-llama/llama-4-maverick-17b-128e-instruct"))
	q, err := retriever.ResolveQuery(ctx, *ask)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query resolution failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("resolved query: kind=%s path=%q pattern=%q\n", q.Kind, q.Path, q.Pattern)

	result := retriever.Execute(ctx, *repo, agent.PlanStep{Description: *ask, Query: *q})
	fmt.Printf("status: %s (%.2fs)\n", result.Status, result.Elapsed.Seconds())
	if result.IsGap() {
		fmt.Printf("gap: %s\n", result.Detail)
		return
	}
	fmt.Println(result.Payload)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
