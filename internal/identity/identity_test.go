package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/store"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserIDFromContext(r.Context()) + "|" + SessionIDFromContext(r.Context())))
	})
}

func TestAnonymousRequestGetsCookieAndUser(t *testing.T) {
	repo := store.NewMemory()
	h := Middleware(repo, Options{AllowAnonymous: true, IsDev: true})(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName {
		t.Fatalf("expected anon cookie, got %v", cookies)
	}
	userID := strings.Split(rec.Body.String(), "|")[0]
	if !isValidAnonID(userID) {
		t.Fatalf("unexpected anon id %q", userID)
	}

	u, err := repo.GetUser(context.Background(), userID)
	if err != nil || u == nil {
		t.Fatalf("expected user row, got %v, %v", u, err)
	}
	if !u.IsAnonymous() {
		t.Fatalf("cookie user %q should be anonymous", u.UserID)
	}
}

func TestAnonymousCookieIsReused(t *testing.T) {
	repo := store.NewMemory()
	h := Middleware(repo, Options{AllowAnonymous: true, IsDev: true})(echoUser())

	id := "anon_" + strings.Repeat("ab", 16)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	req.Header.Set(SessionHeaderName, "tab-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Body.String(); got != id+"|tab-1" {
		t.Fatalf("unexpected identity %q", got)
	}
}

func TestBearerTokenResolvesSubject(t *testing.T) {
	repo := store.NewMemory()
	h := Middleware(repo, Options{JWTSecret: "s3cret"})(echoUser())

	token, err := IssueToken("s3cret", "user-42", "Ana", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "user-42|default" {
		t.Fatalf("unexpected identity %q", got)
	}
	u, _ := repo.GetUser(context.Background(), "user-42")
	if u == nil || u.Username != "Ana" {
		t.Fatalf("expected user Ana, got %+v", u)
	}
	if u.IsAnonymous() {
		t.Fatal("token user should not be anonymous")
	}
}

func TestMiddlewareSetsUsername(t *testing.T) {
	echoName := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UsernameFromContext(r.Context())))
	})

	token, err := IssueToken("s3cret", "user-7", "Lucía", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Middleware(store.NewMemory(), Options{JWTSecret: "s3cret"})(echoName).ServeHTTP(rec, req)
	if got := rec.Body.String(); got != "Lucía" {
		t.Fatalf("username = %q, want Lucía", got)
	}

	id := "anon_" + strings.Repeat("cd", 16)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	rec = httptest.NewRecorder()
	Middleware(store.NewMemory(), Options{AllowAnonymous: true, IsDev: true})(echoName).ServeHTTP(rec, req)
	if got := rec.Body.String(); got != "anon-cdcdcdcd" {
		t.Fatalf("username = %q, want anon-cdcdcdcd", got)
	}
}

func TestUnauthorizedRequests(t *testing.T) {
	expired, err := IssueToken("s3cret", "user-1", "", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	wrongKey, err := IssueToken("other", "user-1", "", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"no credentials", ""},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong key", "Bearer " + wrongKey},
		{"expired", "Bearer " + expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Middleware(store.NewMemory(), Options{JWTSecret: "s3cret"})(echoUser())
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestSanitizeSessionID(t *testing.T) {
	if got := sanitizeSessionID("  "); got != DefaultSessionIDValue {
		t.Errorf("expected default, got %q", got)
	}
	if got := sanitizeSessionID("../../etc"); got != DefaultSessionIDValue {
		t.Errorf("expected default for path traversal, got %q", got)
	}
	if got := sanitizeSessionID("tab:1"); got != "tab:1" {
		t.Errorf("expected tab:1, got %q", got)
	}
}
