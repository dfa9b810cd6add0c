package domain

import (
	"time"
)

// Conversation holds the persisted state of one chat session.
//
// PendingSuggestions is overwritten every turn, never appended to; an
// affirmation resolves against exactly the most recent set.
// SuggestionsRepo records which repository the pending suggestions were
// generated against, so a stale affirmation after a repository switch can be
// detected instead of silently executed.
type Conversation struct {
	SessionID          string
	ActiveRepo         string
	Messages           []Message
	PendingSuggestions []Suggestion
	SuggestionsRepo    string
	LastRetrieved      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone returns a deep copy. Turn execution works on a clone and commits it
// back only when the turn finalizes, so a failed turn never corrupts state.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	cp.PendingSuggestions = make([]Suggestion, len(c.PendingSuggestions))
	copy(cp.PendingSuggestions, c.PendingSuggestions)
	return &cp
}

// AppendMessage appends a transcript entry.
func (c *Conversation) AppendMessage(m Message) {
	c.Messages = append(c.Messages, m)
}

// RecentMessages returns the last n transcript entries.
func (c *Conversation) RecentMessages(n int) []Message {
	if n >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}
