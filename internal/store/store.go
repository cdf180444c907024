// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/gene-chat/internal/domain"
)

// ErrNotFound is returned when a saved conversation does not exist for the user.
var ErrNotFound = errors.New("not found")

// Repository persists anonymous users and saved conversation snapshots.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// SaveConversation stores a snapshot and assigns its ID and CreatedAt.
	SaveConversation(ctx context.Context, conv *domain.SavedConversation) error

	// ListConversations returns a user's snapshots, newest first, without records.
	ListConversations(ctx context.Context, userID string) ([]*domain.SavedConversation, error)

	// GetConversation returns one snapshot with its records.
	GetConversation(ctx context.Context, userID, id string) (*domain.SavedConversation, error)

	// DeleteConversation removes one snapshot.
	DeleteConversation(ctx context.Context, userID, id string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
