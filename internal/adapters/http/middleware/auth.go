package middleware

import (
	"net/http"
	"time"

	sessionStore "kafer/internal/adapters/storage/session"
)

// SessionCookieName carries the opaque session token.
const SessionCookieName = "kafer_session"

// sessionMaxAge matches the session store's default TTL.
const sessionMaxAge = int(sessionStore.DefaultTTL / time.Second)

// Auth copies the session cookie into the request context so the session
// store addresses the right slot. It does NOT block unauthenticated
// requests; the session gate does that per handler.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
			r = r.WithContext(sessionStore.WithToken(r.Context(), cookie.Value))
		}
		next.ServeHTTP(w, r)
	})
}

// SetSessionCookie sets the session cookie on the response.
// secure is false only for plain-HTTP local development.
func SetSessionCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
		MaxAge:   sessionMaxAge,
	})
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
		MaxAge:   -1,
	})
}
