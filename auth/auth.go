// Package auth verifies the signed session issued by the sign-in provider
// and carries the user id in the request context. Sign-in itself happens
// elsewhere; this package only checks the signature.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
	"github.com/Kodeloom/spacovers-admin/internal/httpx"
)

type ctxKey string

const (
	sessionCookieName = "session"
	// SessionHeader carries the same signed value for station scanners that
	// do not keep cookies.
	SessionHeader = "X-Session"
	userIDCtxKey  = ctxKey("userID")
)

// UserVerifier reports whether a session's user still exists and is active.
type UserVerifier func(ctx context.Context, uid uint) bool

// Sessions signs and verifies "uid.signature" session values.
type Sessions struct {
	secret []byte
	verify UserVerifier
}

// NewSessions returns a verifier using secret. verify may be nil.
func NewSessions(secret string, verify UserVerifier) *Sessions {
	return &Sessions{secret: []byte(secret), verify: verify}
}

// Sign returns the session value for userID.
func (s *Sessions) Sign(userID uint) string {
	uid := strconv.FormatUint(uint64(userID), 10)
	return uid + "." + s.signature(uid)
}

func (s *Sessions) signature(uid string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(uid))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// CreateSession sets a signed cookie with the user id.
func (s *Sessions) CreateSession(w http.ResponseWriter, userID uint) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.Sign(userID),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(14 * 24 * time.Hour),
	})
}

// ClearSession deletes the session cookie.
func ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", Expires: time.Unix(0, 0), HttpOnly: true, SameSite: http.SameSiteLaxMode})
}

// Parse validates a session value and returns the user id.
func (s *Sessions) Parse(value string) (uint, bool) {
	uidStr, sig, ok := strings.Cut(value, ".")
	if !ok || uidStr == "" {
		return 0, false
	}
	if !hmac.Equal([]byte(sig), []byte(s.signature(uidStr))) {
		return 0, false
	}
	id64, err := strconv.ParseUint(uidStr, 10, 64)
	if err != nil || id64 == 0 {
		return 0, false
	}
	return uint(id64), true
}

// ParseSession reads the session from the cookie or the X-Session header.
func (s *Sessions) ParseSession(r *http.Request) (uint, bool) {
	value := r.Header.Get(SessionHeader)
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		value = c.Value
	}
	if value == "" {
		return 0, false
	}
	return s.Parse(value)
}

// WithUserID stores user id in context.
func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, userIDCtxKey, userID)
}

// UserIDFromContext extracts user id.
func UserIDFromContext(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(userIDCtxKey).(uint)
	return id, ok && id != 0
}

// Middleware attaches the user id to the request context when the session
// is valid.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid, ok := s.ParseSession(r); ok {
			r = r.WithContext(WithUserID(r.Context(), uid))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests without a valid session with 401 JSON.
func (s *Sessions) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			httpx.Error(w, apperr.Authentication("sign in required"))
			return
		}
		if s.verify != nil && !s.verify(r.Context(), uid) {
			// Session refers to a missing or disabled user.
			ClearSession(w)
			httpx.Error(w, apperr.Authentication("session user is no longer active"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
