// Package domain defines the core data types shared across the application.
package domain

import (
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall records one retrieval call made while producing a message.
type ToolCall struct {
	Name     string            `json:"name"`
	Args     map[string]string `json:"args,omitempty"`
	Summary  string            `json:"summary,omitempty"`
	Duration time.Duration     `json:"duration_ns,omitempty"`
	Failed   bool              `json:"failed,omitempty"`
}

// Message is a single transcript entry. Messages are immutable once appended.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Suggestion is a short, user-actionable follow-up offered after a turn.
// Text is the literal request a follow-up affirmation resolves to.
type Suggestion struct {
	Text string `json:"text"`
}
