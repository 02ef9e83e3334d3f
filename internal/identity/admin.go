package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

const AdminCookieName = "designhaus_admin"

// AdminAuth guards the admin dashboard with a shared passphrase. The cookie
// holds an HMAC of a fixed label keyed by the passphrase, so rotating the
// passphrase invalidates existing cookies.
type AdminAuth struct {
	passphrase []byte
	token      string
	isDev      bool
}

// NewAdminAuth creates an AdminAuth. An empty passphrase rejects every login.
func NewAdminAuth(passphrase string, isDev bool) *AdminAuth {
	a := &AdminAuth{passphrase: []byte(passphrase), isDev: isDev}
	if passphrase != "" {
		mac := hmac.New(sha256.New, a.passphrase)
		mac.Write([]byte("designhaus-admin"))
		a.token = hex.EncodeToString(mac.Sum(nil))
	}
	return a
}

// Enabled reports whether a passphrase is configured.
func (a *AdminAuth) Enabled() bool {
	return a.token != ""
}

// Login checks the passphrase in constant time and sets the admin cookie on
// success. Nothing is written on failure.
func (a *AdminAuth) Login(w http.ResponseWriter, passphrase string) bool {
	if !a.Enabled() || subtle.ConstantTimeCompare([]byte(passphrase), a.passphrase) != 1 {
		return false
	}
	setCookie(w, AdminCookieName, a.token, a.isDev)
	return true
}

// Logout clears the admin cookie.
func (a *AdminAuth) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AdminCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !a.isDev,
	})
}

// Authorized reports whether r carries a valid admin cookie.
func (a *AdminAuth) Authorized(r *http.Request) bool {
	if !a.Enabled() {
		return false
	}
	c, err := r.Cookie(AdminCookieName)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(a.token)) == 1
}

// Require rejects requests without a valid admin cookie.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorized(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"access denied"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
