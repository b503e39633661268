package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/incubator/internal/store"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddlewareIssuesAndReusesCookie(t *testing.T) {
	repo := newStore(t)
	var seen []string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, UserIDFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	cookies := first.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || !isValidAnonID(cookies[0].Value) {
		t.Fatalf("cookies = %+v", cookies)
	}
	if cookies[0].Secure {
		t.Fatalf("development cookie must not be Secure")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req)

	if len(seen) != 2 || seen[0] != seen[1] || seen[0] != cookies[0].Value {
		t.Fatalf("user IDs = %v", seen)
	}

	user, err := repo.GetUser(context.Background(), seen[0])
	if err != nil || user == nil {
		t.Fatalf("GetUser() = %v, %v", user, err)
	}
	if user.Username != deriveUsername(seen[0]) {
		t.Fatalf("Username = %q", user.Username)
	}
}

func TestMiddlewareReplacesInvalidCookie(t *testing.T) {
	repo := newStore(t)
	var got string
	h := Middleware(repo, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "../../etc/passwd"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !isValidAnonID(got) {
		t.Fatalf("user ID = %q, want a fresh anonymous ID", got)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Fatalf("production cookie = %+v", c)
	}
}

func TestEnsureUserThrottlesLastSeen(t *testing.T) {
	repo := newStore(t)
	ctx := context.Background()
	id := "anon_0123456789abcdef0123456789abcdef"
	start := time.Now().Truncate(time.Second)

	if err := ensureUser(ctx, repo, id, start); err != nil {
		t.Fatalf("ensureUser() error = %v", err)
	}
	if err := ensureUser(ctx, repo, id, start.Add(time.Minute)); err != nil {
		t.Fatalf("ensureUser() error = %v", err)
	}
	user, _ := repo.GetUser(ctx, id)
	if !user.LastSeenAt.Equal(start) {
		t.Fatalf("LastSeenAt = %v, want %v (throttled)", user.LastSeenAt, start)
	}

	later := start.Add(time.Hour)
	if err := ensureUser(ctx, repo, id, later); err != nil {
		t.Fatalf("ensureUser() error = %v", err)
	}
	user, _ = repo.GetUser(ctx, id)
	if !user.LastSeenAt.Equal(later) {
		t.Fatalf("LastSeenAt = %v, want %v", user.LastSeenAt, later)
	}
}

func TestWithUser(t *testing.T) {
	ctx := WithUser(context.Background(), "anon_0123456789abcdef0123456789abcdef")
	if UserIDFromContext(ctx) == "" || UsernameFromContext(ctx) != "founder-89abcdef" {
		t.Fatalf("context = %q / %q", UserIDFromContext(ctx), UsernameFromContext(ctx))
	}
	if UserIDFromContext(context.Background()) != "" {
		t.Fatalf("empty context has a user")
	}
}
