// Package auth provides bearer-token credentials for the planforge API and
// the request identity it establishes.
//
// Tokens are opaque strings of the form "<user_id>.<signature>" where the
// signature is an HMAC-SHA256 of the user id under the service secret. HTTP
// requests carry the token in the Authorization header; WebSocket upgrades
// carry it in the "token" query parameter because browsers cannot set
// headers on WebSocket handshakes.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// WSTokenParam is the query parameter carrying the bearer token on
// WebSocket upgrade requests.
const WSTokenParam = "token"

var (
	// ErrInvalidToken reports a token that is absent, malformed, or carries
	// a bad signature.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSecret reports a missing service secret.
	ErrNoSecret = errors.New("auth secret is empty")
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// validUserID rejects dot-only ids ("." and "..") that match the pattern
// but traverse directories wherever the id names a path element.
func validUserID(s string) bool {
	return userIDPattern.MatchString(s) && strings.Trim(s, ".") != ""
}

type contextKey int

const userIDKey contextKey = iota

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the authenticated user id from the request
// context, or "" if the request is unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// TokenSource supplies a bearer token for outbound requests. Acquisition may
// block (e.g. refreshing an expired credential), so it takes a context.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a TokenSource that always yields tok. An empty
// tok yields ErrInvalidToken, surfacing missing credentials synchronously.
func StaticTokenSource(tok string) TokenSource {
	return staticTokenSource(tok)
}

type staticTokenSource string

func (s staticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: no credential configured", ErrInvalidToken)
	}
	return string(s), nil
}

// Authenticator issues and verifies bearer tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator from the service secret.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// IssueToken mints a token for the given user id.
func (a *Authenticator) IssueToken(userID string) (string, error) {
	if !validUserID(userID) {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	return userID + "." + a.sign(userID), nil
}

// VerifyToken checks a token and returns the user id it was issued for.
func (a *Authenticator) VerifyToken(token string) (string, error) {
	userID, sig, ok := strings.Cut(token, ".")
	if !ok || !validUserID(userID) {
		return "", ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(a.sign(userID))) {
		return "", ErrInvalidToken
	}
	return userID, nil
}

func (a *Authenticator) sign(userID string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Middleware returns HTTP middleware that rejects unauthenticated requests
// with 401 and stores the user id in the request context otherwise. The
// token is read from the Authorization header, falling back to the query
// parameter for WebSocket upgrades.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		userID, err := a.VerifyToken(token)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "invalid or missing token"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get(WSTokenParam)
}
