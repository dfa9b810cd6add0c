// Package llm provides an OpenAI-compatible chat completion client used
// against the Groq API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Completer is the interface the agent roles depend on. Satisfied by *Client;
// tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// BackendError represents a transport or API failure from the LLM backend.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("llm: backend error: status %d: %s", e.StatusCode, e.Message)
}

// Message is one chat message in OpenAI wire format.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolFunction declares a callable function to the model.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Tool wraps a function declaration.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Request is one chat completion request.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Completion is the model's reply: final text, a tool request, or both.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

type apiResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// NewClient creates a client for the given endpoint.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// minRequestGap paces successive calls so bursts of plan steps do not trip
// the provider's per-second limit.
const minRequestGap = 100 * time.Millisecond

// Complete sends one chat completion request. Rate-limit responses (429) are
// retried a bounded number of times with backoff; other failures surface
// immediately as *BackendError.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	if c.apiKey == "" {
		return nil, &BackendError{Message: "API key not configured"}
	}

	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < minRequestGap {
		time.Sleep(minRequestGap - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &BackendError{Message: ctx.Err().Error()}
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}

		completion, retryable, err := c.doRequest(ctx, payload)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, payload []byte) (*Completion, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, false, &BackendError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, false, &BackendError{StatusCode: resp.StatusCode, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, &BackendError{StatusCode: resp.StatusCode, Message: "rate limited"}
	}
	if resp.StatusCode >= 400 {
		var apiResp apiResponse
		_ = json.Unmarshal(body, &apiResp)
		msg := http.StatusText(resp.StatusCode)
		if apiResp.Error != nil && apiResp.Error.Message != "" {
			msg = apiResp.Error.Message
		}
		return nil, false, &BackendError{StatusCode: resp.StatusCode, Message: msg}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, false, &BackendError{StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	if len(apiResp.Choices) == 0 {
		return nil, false, &BackendError{StatusCode: resp.StatusCode, Message: "empty choices"}
	}

	choice := apiResp.Choices[0]
	return &Completion{
		Content:   choice.Message.Content,
		ToolCalls: choice.Message.ToolCalls,
	}, false, nil
}

// IsBackendError reports whether err is a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
