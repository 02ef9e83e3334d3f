// Package identity provides cookie-based customer and admin identity.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	SessionCookieName = "designhaus_session_id"
	IntroCookieName   = "designhaus_intro_sent"
	cookieMaxAge      = 30 * 24 * time.Hour
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	createdKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// SessionEnsurer resolves a cached session id to a live one, creating a new
// session when the cached id is absent or no longer exists.
type SessionEnsurer interface {
	EnsureSession(ctx context.Context, cachedID string) (id string, created bool, err error)
}

// SessionIDFromContext extracts the customer session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// CreatedFromContext reports whether the session was created for this request.
func CreatedFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(createdKey).(bool)
	return v
}

// WithSessionID returns a context carrying the given session ID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func cachedSessionID(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || !sessionIDPattern.MatchString(c.Value) {
		return ""
	}
	return c.Value
}

func setCookie(w http.ResponseWriter, name, value string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware resolves the customer session from the session cookie and
// refreshes the cookie. A missing or stale id gets a fresh session.
func Middleware(ensurer SessionEnsurer, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, created, err := ensurer.EnsureSession(r.Context(), cachedSessionID(r))
			if err != nil {
				http.Error(w, `{"error":"failed to establish session"}`, http.StatusInternalServerError)
				return
			}
			setCookie(w, SessionCookieName, sessionID, isDev)

			ctx := WithSessionID(r.Context(), sessionID)
			ctx = context.WithValue(ctx, createdKey, created)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionVerifier checks that a session still exists.
type SessionVerifier interface {
	VerifySession(ctx context.Context, id string) (bool, error)
}

// RequireSession resolves the customer session like Middleware but never
// creates one: a missing, malformed or unknown cookie gets 401.
func RequireSession(verifier SessionVerifier, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := cachedSessionID(r)
			if sessionID == "" {
				http.Error(w, `{"error":"session required"}`, http.StatusUnauthorized)
				return
			}
			ok, err := verifier.VerifySession(r.Context(), sessionID)
			if err != nil {
				http.Error(w, `{"error":"failed to verify session"}`, http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, `{"error":"session required"}`, http.StatusUnauthorized)
				return
			}
			setCookie(w, SessionCookieName, sessionID, isDev)
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
		})
	}
}

// IntroSent reports whether the welcome message was already sent for sessionID.
func IntroSent(r *http.Request, sessionID string) bool {
	c, err := r.Cookie(IntroCookieName)
	return err == nil && c.Value == sessionID
}

// MarkIntroSent records that the welcome message was sent for sessionID.
func MarkIntroSent(w http.ResponseWriter, sessionID string, isDev bool) {
	setCookie(w, IntroCookieName, sessionID, isDev)
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
