// Package identity resolves each request to a user: a bearer JWT when a
// signing secret is configured, otherwise an anonymous per-device cookie.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/store"
)

const (
	AnonCookieName        = "chipi_anon_id"
	SessionHeaderName     = "X-Chipi-Session-ID"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
	lastSeenGranularity   = time.Minute
)

var (
	// ErrNoCredentials means the request carried nothing usable and
	// anonymous access is disabled.
	ErrNoCredentials = errors.New("no credentials")

	// ErrInvalidToken means a bearer token was present but did not verify.
	ErrInvalidToken = errors.New("invalid bearer token")
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
	sessionIDKey
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Options configures how requests are authenticated.
type Options struct {
	JWTSecret      string
	AllowAnonymous bool
	IsDev          bool
}

// Claims are the JWT claims read from bearer tokens. The subject is the
// user ID.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

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

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithUser returns ctx carrying the given identity. Used by non-HTTP
// entry points such as the CLI.
func WithUser(ctx context.Context, userID, username, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, usernameKey, username)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

// IssueToken signs an HS256 token for userID.
func IssueToken(secret, userID, name string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is empty")
	}
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(secret, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
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

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deriveUsername(userID string) string {
	if strings.HasPrefix(userID, "anon_") && len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	if userID == "" {
		return "anon-user"
	}
	return userID
}

// EnsureUser creates the user row on first sight and refreshes last_seen_at
// afterwards.
func EnsureUser(ctx context.Context, repo store.Repository, userID, username string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	if user != nil {
		if now.Sub(user.LastSeenAt) < lastSeenGranularity {
			return nil
		}
		return repo.UpdateLastSeen(ctx, userID, now)
	}

	if username == "" {
		username = deriveUsername(userID)
	}
	user = &domain.User{
		UserID:     userID,
		Username:   username,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.UpsertUser(ctx, user); err != nil {
		return err
	}
	slog.Info("User created", "user_id", userID, "username", username, "anonymous", user.IsAnonymous())
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
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	// Browsers cannot set headers on WebSocket upgrades.
	if r.Header.Get("Upgrade") != "" {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// resolve returns the user ID and display name for r.
func resolve(w http.ResponseWriter, r *http.Request, opts Options) (string, string, error) {
	if token := bearerToken(r); token != "" && opts.JWTSecret != "" {
		claims, err := ParseToken(opts.JWTSecret, token)
		if err != nil {
			return "", "", err
		}
		return claims.Subject, claims.Name, nil
	}

	if !opts.AllowAnonymous {
		return "", "", ErrNoCredentials
	}

	id, err := getOrCreateAnonID(w, r, opts.IsDev)
	if err != nil {
		return "", "", err
	}
	return id, deriveUsername(id), nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware resolves the caller and injects user and session IDs into the
// request context. Unauthenticated requests get 401.
func Middleware(repo store.Repository, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, username, err := resolve(w, r, opts)
			if errors.Is(err, ErrNoCredentials) || errors.Is(err, ErrInvalidToken) {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if err != nil {
				slog.Error("failed to resolve identity", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "failed to establish identity")
				return
			}

			if err := EnsureUser(r.Context(), repo, userID, username); err != nil {
				slog.Error("failed to initialize user", "user_id", userID, "error", err)
				writeJSONError(w, http.StatusInternalServerError, "failed to initialize user")
				return
			}

			if username == "" {
				username = deriveUsername(userID)
			}
			ctx := WithUser(r.Context(), userID, username, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, msg)
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
