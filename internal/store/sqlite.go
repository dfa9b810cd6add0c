package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/repolens/repolens/internal/domain"
	"github.com/repolens/repolens/internal/shared"
	_ "modernc.org/sqlite"
)

// writeRetries is how often a write is retried on SQLite concurrency errors
// before giving up. The busy_timeout pragma handles most contention; this
// covers the rare conflict that slips past it.
const writeRetries = 3

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes conversation writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		session_id TEXT PRIMARY KEY,
		active_repo TEXT NOT NULL DEFAULT '',
		messages_json TEXT NOT NULL DEFAULT '[]',
		suggestions_json TEXT NOT NULL DEFAULT '[]',
		suggestions_repo TEXT NOT NULL DEFAULT '',
		last_retrieved TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetConversation retrieves a conversation by session ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	query := `
		SELECT session_id, active_repo, messages_json, suggestions_json,
		       suggestions_repo, last_retrieved, created_at, updated_at
		FROM conversations WHERE session_id = ?`

	return s.scanConversation(s.db.QueryRowContext(ctx, query, sessionID))
}

// LatestConversation returns the most recently updated conversation.
func (s *SQLiteStore) LatestConversation(ctx context.Context) (*domain.Conversation, error) {
	query := `
		SELECT session_id, active_repo, messages_json, suggestions_json,
		       suggestions_repo, last_retrieved, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC LIMIT 1`

	return s.scanConversation(s.db.QueryRowContext(ctx, query))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	var messagesJSON, suggestionsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&conv.SessionID, &conv.ActiveRepo, &messagesJSON, &suggestionsJSON,
		&conv.SuggestionsRepo, &conv.LastRetrieved, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if err := json.Unmarshal([]byte(suggestionsJSON), &conv.PendingSuggestions); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}

	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	return &conv, nil
}

// UpsertConversation creates or updates a conversation record.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	suggestionsJSON, err := json.Marshal(conv.PendingSuggestions)
	if err != nil {
		return fmt.Errorf("encode suggestions: %w", err)
	}

	query := `
		INSERT INTO conversations (
			session_id, active_repo, messages_json, suggestions_json,
			suggestions_repo, last_retrieved, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			active_repo = excluded.active_repo,
			messages_json = excluded.messages_json,
			suggestions_json = excluded.suggestions_json,
			suggestions_repo = excluded.suggestions_repo,
			last_retrieved = excluded.last_retrieved,
			updated_at = excluded.updated_at`

	err = s.execWithRetry(ctx, query,
		conv.SessionID, conv.ActiveRepo, string(messagesJSON), string(suggestionsJSON),
		conv.SuggestionsRepo, conv.LastRetrieved,
		conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// execWithRetry runs a write statement, retrying SQLite concurrency errors
// with a short backoff.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...interface{}) error {
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
	}
	return err
}

// DeleteConversation removes a conversation record.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.execWithRetry(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// CleanupExpiredConversations removes conversations idle longer than ttl.
func (s *SQLiteStore) CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired conversations: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
