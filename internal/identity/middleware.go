package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/gene-chat/internal/domain"
)

const (
	anonCookieMaxAge = 30 * 24 * time.Hour
	// lastSeenResolution limits last_seen writes to one per user per interval.
	lastSeenResolution = time.Minute
)

// UserStore is the subset of the repository identity needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// Resolver attaches an Identity to every request, minting an anonymous
// user on first visit.
type Resolver struct {
	repo  UserStore
	isDev bool
	now   func() time.Time
}

// NewResolver creates a resolver. Cookies are Secure unless isDev.
func NewResolver(repo UserStore, isDev bool) *Resolver {
	return &Resolver{repo: repo, isDev: isDev, now: time.Now}
}

// Middleware is shorthand for NewResolver(repo, isDev).Handler.
func Middleware(repo UserStore, isDev bool) func(http.Handler) http.Handler {
	return NewResolver(repo, isDev).Handler
}

// Handler wraps next.
func (res *Resolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := res.userID(w, r)
		if err != nil {
			slog.Error("Failed to establish anonymous identity", "error", err)
			writeError(w, "failed to establish anonymous identity")
			return
		}

		if err := res.touch(r.Context(), userID); err != nil {
			slog.Error("Failed to ensure anonymous user", "user_id", userID, "error", err)
			writeError(w, "failed to initialize anonymous user")
			return
		}

		ctx := NewContext(r.Context(), Identity{
			UserID:    userID,
			Username:  usernameFor(userID),
			SessionID: sessionIDFromRequest(r),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID reuses a valid cookie, or mints a new ID, and (re)sets the cookie
// so its expiry slides forward.
func (res *Resolver) userID(w http.ResponseWriter, r *http.Request) (string, error) {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && anonIDPattern.MatchString(c.Value) {
		id = c.Value
	} else {
		if id, err = newAnonID(); err != nil {
			return "", err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  res.now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !res.isDev,
	})
	return id, nil
}

// touch creates the user row on first sight and otherwise bumps last_seen,
// at most once per lastSeenResolution.
func (res *Resolver) touch(ctx context.Context, userID string) error {
	user, err := res.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	now := res.now()
	if user == nil {
		return res.repo.UpsertUser(ctx, &domain.User{
			UserID:     userID,
			Username:   usernameFor(userID),
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if user.IdleFor(now) < lastSeenResolution {
		return nil
	}
	return res.repo.UpdateLastSeen(ctx, userID, now)
}

func writeError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, message)
}
