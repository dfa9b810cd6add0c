// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/repolens/repolens/internal/domain"
)

// Repository defines the interface for persisting conversation state.
type Repository interface {
	// GetConversation retrieves a conversation by session ID.
	// Returns (nil, nil) when no conversation exists.
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)

	// UpsertConversation creates or updates a conversation record.
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error

	// DeleteConversation removes a conversation record.
	DeleteConversation(ctx context.Context, sessionID string) error

	// LatestConversation returns the most recently updated conversation,
	// or (nil, nil) when the store is empty. Used to resume the active
	// session after a restart.
	LatestConversation(ctx context.Context) (*domain.Conversation, error)

	// CleanupExpiredConversations removes conversations idle longer than ttl.
	CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
