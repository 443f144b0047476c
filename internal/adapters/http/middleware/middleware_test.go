package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sessionStore "kafer/internal/adapters/storage/session"
)

func TestRateLimiter_Allow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 2, time.Second)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	steps := []struct {
		advance time.Duration
		key     string
		want    bool
	}{
		{0, "a", true},
		{0, "a", true},
		{0, "a", false},
		{0, "b", true},
		{time.Second, "a", true},
		{0, "a", true},
		{0, "a", false},
	}
	for i, s := range steps {
		now = now.Add(s.advance)
		if got := rl.Allow(s.key); got != s.want {
			t.Errorf("step %d: Allow(%s) = %v, want %v", i, s.key, got, s.want)
		}
	}

	now = now.Add(10 * time.Minute)
	rl.sweep(5 * time.Minute)
	if len(rl.visitors) != 0 {
		t.Errorf("sweep left %d visitors", len(rl.visitors))
	}
}

func TestRateLimit_KeysByHost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(NewRateLimiter(ctx, 1, time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 2)
	for _, addr := range []string{"10.0.0.1:5000", "10.0.0.1:5001"} {
		req := httptest.NewRequest("GET", "/api/me", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429] (ports share a bucket)", codes)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	for _, h := range []string{"Content-Security-Policy", "X-Frame-Options", "X-Content-Type-Options", "Cache-Control"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
}

func TestCSRF_ExemptsJSON(t *testing.T) {
	key := []byte(strings.Repeat("k", 32))
	handler := CSRF(key, false, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name        string
		contentType string
		want        int
	}{
		{"json", "application/json", http.StatusNoContent},
		{"json with charset", "application/json; charset=utf-8", http.StatusNoContent},
		{"form without token", "application/x-www-form-urlencoded", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/logout", strings.NewReader("{}"))
			req.Header.Set("Content-Type", tt.contentType)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestAuth_PutsCookieTokenInContext(t *testing.T) {
	var got string
	var ok bool
	handler := Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = sessionStore.TokenFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !ok || got != "tok" {
		t.Errorf("token = %q, %v; want tok", got, ok)
	}

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/me", nil))
	if ok {
		t.Error("request without cookie carried a token")
	}
}

func TestSessionCookies(t *testing.T) {
	rr := httptest.NewRecorder()
	SetSessionCookie(rr, "tok", true)
	ClearSessionCookie(rr, true)

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("cookies = %d, want 2", len(cookies))
	}
	set, clear := cookies[0], cookies[1]
	if set.Value != "tok" || !set.HttpOnly || !set.Secure || set.SameSite != http.SameSiteStrictMode || set.MaxAge != 86400 {
		t.Errorf("session cookie = %+v", set)
	}
	if clear.MaxAge >= 0 {
		t.Errorf("clear cookie MaxAge = %d, want negative", clear.MaxAge)
	}
}
