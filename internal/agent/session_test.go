package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/repolens/repolens/internal/domain"
)

// memStore is an in-memory store.Repository for tests.
type memStore struct {
	mu        sync.Mutex
	convs     map[string]*domain.Conversation
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{convs: map[string]*domain.Conversation{}}
}

func (s *memStore) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[sessionID]
	if !ok {
		return nil, nil
	}
	return conv.Clone(), nil
}

func (s *memStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.convs[conv.SessionID] = conv.Clone()
	return nil
}

func (s *memStore) DeleteConversation(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, sessionID)
	return nil
}

func (s *memStore) LatestConversation(ctx context.Context) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Conversation
	for _, conv := range s.convs {
		if latest == nil || conv.UpdatedAt.After(latest.UpdatedAt) {
			latest = conv
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

func (s *memStore) CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	return 0, nil
}

func (s *memStore) Ping(ctx context.Context) error { return nil }
func (s *memStore) Close() error                   { return nil }

func TestSessionManagerStartsFresh(t *testing.T) {
	t.Parallel()

	sm, err := NewSessionManager(context.Background(), newMemStore())
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}
	conv := sm.Snapshot()
	if conv.SessionID == "" {
		t.Error("fresh conversation has no session ID")
	}
	if len(conv.Messages) != 0 {
		t.Errorf("fresh conversation has %d messages", len(conv.Messages))
	}
}

func TestSessionManagerResumesLatest(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	persisted := &domain.Conversation{
		SessionID:  "s-1",
		ActiveRepo: "agno-agi/agno",
		Messages:   []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		UpdatedAt:  time.Now(),
	}
	if err := repo.UpsertConversation(context.Background(), persisted); err != nil {
		t.Fatal(err)
	}

	sm, err := NewSessionManager(context.Background(), repo)
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}
	conv := sm.Snapshot()
	if conv.SessionID != "s-1" || conv.ActiveRepo != "agno-agi/agno" {
		t.Errorf("resumed conversation = %+v", conv)
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	t.Parallel()

	sm, err := NewSessionManager(context.Background(), newMemStore())
	if err != nil {
		t.Fatal(err)
	}

	snap := sm.Snapshot()
	snap.ActiveRepo = "mutated/repo"
	snap.AppendMessage(domain.Message{Role: domain.RoleUser, Content: "hi"})

	if conv := sm.Snapshot(); conv.ActiveRepo != "" || len(conv.Messages) != 0 {
		t.Errorf("mutating a snapshot leaked into the manager: %+v", conv)
	}
}

func TestCommitInstallsAndPersists(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	sm, err := NewSessionManager(context.Background(), repo)
	if err != nil {
		t.Fatal(err)
	}

	conv := sm.Snapshot()
	conv.ActiveRepo = "agno-agi/agno"
	if err := sm.Commit(context.Background(), conv); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if got := sm.Snapshot(); got.ActiveRepo != "agno-agi/agno" {
		t.Errorf("in-memory state = %+v", got)
	}
	stored, err := repo.GetConversation(context.Background(), conv.SessionID)
	if err != nil || stored == nil {
		t.Fatalf("GetConversation = %v, %v", stored, err)
	}
	if stored.ActiveRepo != "agno-agi/agno" {
		t.Errorf("persisted state = %+v", stored)
	}
}

func TestCommitKeepsMemoryOnPersistFailure(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	sm, err := NewSessionManager(context.Background(), repo)
	if err != nil {
		t.Fatal(err)
	}
	repo.upsertErr = errors.New("disk full")

	conv := sm.Snapshot()
	conv.ActiveRepo = "agno-agi/agno"
	if err := sm.Commit(context.Background(), conv); err == nil {
		t.Fatal("expected persist error")
	}
	if got := sm.Snapshot(); got.ActiveRepo != "agno-agi/agno" {
		t.Error("in-memory state lost on persist failure")
	}
}

func TestResetStartsNewSession(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	sm, err := NewSessionManager(context.Background(), repo)
	if err != nil {
		t.Fatal(err)
	}
	old := sm.Snapshot()
	if err := sm.Commit(context.Background(), old); err != nil {
		t.Fatal(err)
	}

	fresh, err := sm.Reset(context.Background())
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if fresh.SessionID == old.SessionID {
		t.Error("reset kept the old session ID")
	}
	if stored, _ := repo.GetConversation(context.Background(), old.SessionID); stored != nil {
		t.Error("old conversation survived the reset")
	}
}
