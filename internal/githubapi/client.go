// Package githubapi provides a minimal GitHub REST v3 client covering the
// query kinds the retrieval role is allowed to execute.
package githubapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound indicates the requested resource does not exist (HTTP 404).
var ErrNotFound = errors.New("github: not found")

// APIError represents a non-404 GitHub API failure (auth, rate limit, 5xx).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: api error: status %d: %s", e.StatusCode, e.Message)
}

// Client is a GitHub REST API client scoped to a single access token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client against api.github.com.
func NewClient(token string) *Client {
	return NewClientWithBaseURL(token, "https://api.github.com")
}

// NewClientWithBaseURL creates a client against a custom endpoint (tests).
func NewClientWithBaseURL(token, baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RepoInfo holds repository metadata.
type RepoInfo struct {
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	Language      string `json:"language"`
	Stars         int    `json:"stargazers_count"`
	OpenIssues    int    `json:"open_issues_count"`
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
	Size int    `json:"size"`
}

// SearchMatch is one code-search hit.
type SearchMatch struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// PullRequest summarizes a pull request.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
}

// Branch is a repository branch.
type Branch struct {
	Name string `json:"name"`
}

// Issue summarizes an issue.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, repo string) (*RepoInfo, error) {
	var info RepoInfo
	if err := c.get(ctx, "/repos/"+repo, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetDirectoryContent lists a directory. An empty ref uses the default branch.
func (c *Client) GetDirectoryContent(ctx context.Context, repo, path, ref string) ([]DirEntry, error) {
	params := url.Values{}
	if ref != "" {
		params.Set("ref", ref)
	}

	var entries []DirEntry
	err := c.get(ctx, "/repos/"+repo+"/contents/"+strings.TrimPrefix(path, "/"), params, &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

type fileContentResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// GetFileContent fetches and decodes a file. An empty ref uses the default branch.
func (c *Client) GetFileContent(ctx context.Context, repo, path, ref string) (string, error) {
	params := url.Values{}
	if ref != "" {
		params.Set("ref", ref)
	}

	var file fileContentResponse
	if err := c.get(ctx, "/repos/"+repo+"/contents/"+strings.TrimPrefix(path, "/"), params, &file); err != nil {
		return "", err
	}
	if file.Type != "file" {
		return "", fmt.Errorf("github: %s is not a file", path)
	}
	if file.Encoding != "base64" {
		return file.Content, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("github: decode file content: %w", err)
	}
	return string(decoded), nil
}

type searchResponse struct {
	TotalCount int           `json:"total_count"`
	Items      []SearchMatch `json:"items"`
}

// SearchCode searches code within a repository.
func (c *Client) SearchCode(ctx context.Context, repo, query string) ([]SearchMatch, error) {
	params := url.Values{}
	params.Set("q", query+" repo:"+repo)
	params.Set("per_page", "30")

	var result searchResponse
	if err := c.get(ctx, "/search/code", params, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// ListPullRequests lists pull requests, most recent first.
func (c *Client) ListPullRequests(ctx context.Context, repo, state string, limit int) ([]PullRequest, error) {
	if state == "" {
		state = "all"
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	params := url.Values{}
	params.Set("state", state)
	params.Set("sort", "created")
	params.Set("direction", "desc")
	params.Set("per_page", strconv.Itoa(limit))

	var prs []PullRequest
	if err := c.get(ctx, "/repos/"+repo+"/pulls", params, &prs); err != nil {
		return nil, err
	}
	return prs, nil
}

// ListBranches lists repository branches.
func (c *Client) ListBranches(ctx context.Context, repo string) ([]Branch, error) {
	var branches []Branch
	if err := c.get(ctx, "/repos/"+repo+"/branches", nil, &branches); err != nil {
		return nil, err
	}
	return branches, nil
}

// ListIssues lists issues, most recent first.
func (c *Client) ListIssues(ctx context.Context, repo, state string, limit int) ([]Issue, error) {
	if state == "" {
		state = "open"
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	params := url.Values{}
	params.Set("state", state)
	params.Set("per_page", strconv.Itoa(limit))

	var issues []Issue
	if err := c.get(ctx, "/repos/"+repo+"/issues", params, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// AuthenticatedUser returns the login of the token's user.
func (c *Client) AuthenticatedUser(ctx context.Context) (string, error) {
	var user struct {
		Login string `json:"login"`
	}
	if err := c.get(ctx, "/user", nil, &user); err != nil {
		return "", err
	}
	return user.Login, nil
}

// RateLimit returns the core API rate limit (remaining, limit).
func (c *Client) RateLimit(ctx context.Context) (int, int, error) {
	var result struct {
		Resources struct {
			Core struct {
				Limit     int `json:"limit"`
				Remaining int `json:"remaining"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := c.get(ctx, "/rate_limit", nil, &result); err != nil {
		return 0, 0, err
	}
	return result.Resources.Core.Remaining, result.Resources.Core.Limit, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{StatusCode: 0, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "read response: " + err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		var apiMsg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &apiMsg)
		if apiMsg.Message == "" {
			apiMsg.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiMsg.Message}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("github: decode response: %w", err)
	}
	return nil
}
