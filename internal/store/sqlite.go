package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/gene-chat/internal/domain"
	"github.com/ashureev/gene-chat/internal/session"
	"github.com/ashureev/gene-chat/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		title TEXT NOT NULL,
		domain TEXT NOT NULL,
		persona TEXT NOT NULL,
		style TEXT NOT NULL,
		model TEXT NOT NULL,
		message_count INTEGER NOT NULL,
		records_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, created_at);
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

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, s.retry, "upsert_user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`

	var rows int64
	err := shared.RetryOnConflict(ctx, s.retry, "update_last_seen", func() error {
		result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// SaveConversation stores a snapshot and assigns its ID and CreatedAt.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *domain.SavedConversation) error {
	records := conv.Records
	if records == nil {
		records = []session.Record{}
	}
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	conv.ID = uuid.NewString()
	conv.MessageCount = len(records)
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO conversations (
		id, user_id, session_id, title, domain, persona, style, model,
		message_count, records_json, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err = shared.RetryOnConflict(ctx, s.retry, "save_conversation", func() error {
		_, err := s.db.ExecContext(ctx, query,
			conv.ID, conv.UserID, conv.SessionID, conv.Title,
			conv.Domain, conv.Persona, conv.Style, conv.Model,
			len(records), string(recordsJSON), conv.CreatedAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// ListConversations returns a user's snapshots, newest first, without records.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*domain.SavedConversation, error) {
	query := `
		SELECT id, user_id, session_id, title, domain, persona, style, model,
		       message_count, created_at
		FROM conversations WHERE user_id = ?
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	convs := []*domain.SavedConversation{}
	for rows.Next() {
		var conv domain.SavedConversation
		var createdAt int64
		if err := rows.Scan(
			&conv.ID, &conv.UserID, &conv.SessionID, &conv.Title,
			&conv.Domain, &conv.Persona, &conv.Style, &conv.Model,
			&conv.MessageCount, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conv.CreatedAt = time.Unix(0, createdAt)
		convs = append(convs, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return convs, nil
}

// GetConversation returns one snapshot with its records.
func (s *SQLiteStore) GetConversation(ctx context.Context, userID, id string) (*domain.SavedConversation, error) {
	query := `
		SELECT id, user_id, session_id, title, domain, persona, style, model,
		       message_count, records_json, created_at
		FROM conversations WHERE user_id = ? AND id = ?`

	var conv domain.SavedConversation
	var recordsJSON string
	var createdAt int64

	err := s.db.QueryRowContext(ctx, query, userID, id).Scan(
		&conv.ID, &conv.UserID, &conv.SessionID, &conv.Title,
		&conv.Domain, &conv.Persona, &conv.Style, &conv.Model,
		&conv.MessageCount, &recordsJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	records, err := session.ParseRecords([]byte(recordsJSON))
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	conv.Records = records
	conv.CreatedAt = time.Unix(0, createdAt)

	return &conv, nil
}

// DeleteConversation removes one snapshot.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, userID, id string) error {
	var rows int64
	err := shared.RetryOnConflict(ctx, s.retry, "delete_conversation", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ? AND id = ?`, userID, id)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
