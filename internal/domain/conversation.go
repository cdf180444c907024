package domain

import (
	"time"

	"github.com/ashureev/gene-chat/internal/session"
)

// SavedConversation is an exported snapshot of a session's history together
// with the settings that were active when it was saved. Live sessions are
// never restored from it.
type SavedConversation struct {
	ID        string `json:"id"`
	UserID    string `json:"-"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Domain    string `json:"domain"`
	Persona   string `json:"persona"`
	Style     string `json:"style"`
	Model     string `json:"model"`
	// MessageCount is kept on list results, which omit Records.
	MessageCount int              `json:"message_count"`
	Records      []session.Record `json:"records,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}
