// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/ashureev/incubator/internal/domain"
	"github.com/ashureev/incubator/internal/store"
)

const (
	AnonCookieName   = "incubator_anon_id"
	anonCookieMaxAge = 30 * 24 * time.Hour
	// lastSeenGranularity limits last_seen_at writes to one per user per window.
	lastSeenGranularity = 15 * time.Minute
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns ctx carrying userID, as the middleware would set it.
func WithUser(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, usernameKey, deriveUsername(userID))
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func deriveUsername(userID string) string {
	if len(userID) > 13 {
		return "founder-" + userID[len(userID)-8:]
	}
	return "founder"
}

// ensureUser creates the user on first sight and otherwise refreshes
// last_seen_at at most once per lastSeenGranularity.
func ensureUser(ctx context.Context, repo store.Repository, userID string, now time.Time) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return repo.UpsertUser(ctx, &domain.User{
			UserID:     userID,
			Username:   deriveUsername(userID),
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if now.Sub(user.LastSeenAt) < lastSeenGranularity {
		return nil
	}
	if err := repo.UpdateLastSeen(ctx, userID, now); err != nil {
		slog.Warn("Failed to update last seen", "user_id", userID, "error", err)
	}
	return nil
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		var genErr error
		if id, genErr = generateAnonID(); genErr != nil {
			return "", genErr
		}
	}
	// Refreshing the cookie on every request keeps active users' IDs alive.
	setAnonCookie(w, id, isDev)
	return id, nil
}

// Middleware injects an anonymous per-device identity into the request.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"identity_unavailable"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureUser(r.Context(), repo, userID, time.Now()); err != nil {
				slog.Error("Failed to initialize anonymous user", "user_id", userID, "error", err)
				http.Error(w, `{"error":"identity_unavailable"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
