// Package identity resolves who is talking: an anonymous per-device user,
// remembered by cookie, and the browser tab's chat session.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	AnonCookieName    = "gene_anon_id"
	SessionHeaderName = "X-GENE-Session-ID"
	// SessionQueryParam carries the tab session for WebSocket upgrades,
	// where browsers cannot set custom headers.
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Identity is the caller of one request. Each (UserID, SessionID) pair owns
// one live conversation.
type Identity struct {
	UserID    string
	Username  string
	SessionID string
}

type contextKey struct{}

// NewContext returns ctx carrying id. An empty or malformed SessionID is
// replaced with DefaultSessionIDValue.
func NewContext(ctx context.Context, id Identity) context.Context {
	id.SessionID = sanitizeSessionID(id.SessionID)
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by NewContext. Without one, the
// user is empty and the session is DefaultSessionIDValue.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return Identity{SessionID: DefaultSessionIDValue}
}

func newAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// usernameFor is the display name of an anonymous user: the tail of its ID.
func usernameFor(userID string) string {
	if len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	return "anon-user"
}

func sessionIDFromRequest(r *http.Request) string {
	if sid := r.Header.Get(SessionHeaderName); sid != "" {
		return sanitizeSessionID(sid)
	}
	return sanitizeSessionID(r.URL.Query().Get(SessionQueryParam))
}

// IPFromRequest returns the remote IP without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
