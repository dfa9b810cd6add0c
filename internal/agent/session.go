package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/repolens/repolens/internal/domain"
	"github.com/repolens/repolens/internal/store"
)

// SessionManager owns the single live conversation. Turn execution works on a
// snapshot and commits it back atomically when the turn finalizes; commits
// also persist to the store so a restarted process resumes the conversation.
//
// One conversation per process: turns are serialized by the orchestrator, so
// the only concurrency here is reads from the presentation layer.
type SessionManager struct {
	mu   sync.Mutex
	conv *domain.Conversation
	repo store.Repository
}

// NewSessionManager resumes the most recent persisted conversation, or starts
// a fresh one when the store is empty.
func NewSessionManager(ctx context.Context, repo store.Repository) (*SessionManager, error) {
	conv, err := repo.LatestConversation(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		conv = newConversation()
	}
	return &SessionManager{conv: conv, repo: repo}, nil
}

func newConversation() *domain.Conversation {
	now := time.Now()
	return &domain.Conversation{
		SessionID: uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot returns a deep copy of the current conversation for one turn.
func (m *SessionManager) Snapshot() *domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conv.Clone()
}

// Commit installs the finalized conversation and persists it. The in-memory
// state always wins; a persistence failure is reported but does not undo the
// turn.
func (m *SessionManager) Commit(ctx context.Context, conv *domain.Conversation) error {
	conv.UpdatedAt = time.Now()

	m.mu.Lock()
	m.conv = conv
	m.mu.Unlock()

	if err := m.repo.UpsertConversation(ctx, conv); err != nil {
		return fmt.Errorf("persist conversation: %w", err)
	}
	return nil
}

// Reset discards the conversation and starts a fresh session.
func (m *SessionManager) Reset(ctx context.Context) (*domain.Conversation, error) {
	m.mu.Lock()
	old := m.conv
	fresh := newConversation()
	m.conv = fresh
	m.mu.Unlock()

	if err := m.repo.DeleteConversation(ctx, old.SessionID); err != nil {
		return nil, fmt.Errorf("delete conversation: %w", err)
	}
	if err := m.repo.UpsertConversation(ctx, fresh); err != nil {
		return nil, fmt.Errorf("persist fresh conversation: %w", err)
	}
	return fresh.Clone(), nil
}
