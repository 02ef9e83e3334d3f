package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("s-1") || !rl.Allow("s-1") {
		t.Fatal("Expected first two requests to pass")
	}
	if rl.Allow("s-1") {
		t.Error("Expected third request to be limited")
	}
	if !rl.Allow("s-2") {
		t.Error("Expected other sessions to have their own budget")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("s-1") {
		t.Error("Expected budget to refill after the window")
	}
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	h := RateLimit(rl, func(r *http.Request) string { return r.Header.Get("X-Session") })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }),
	)

	do := func(session string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
		req.Header.Set("X-Session", session)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := do("s-1"); code != http.StatusCreated {
		t.Errorf("Expected 201, got %d", code)
	}
	if code := do("s-1"); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", code)
	}
	if code := do(""); code != http.StatusCreated {
		t.Errorf("Expected unkeyed request to pass, got %d", code)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://designhaus.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
	req.Header.Set("Origin", "https://designhaus.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://designhaus.example" {
		t.Errorf("Expected origin to be echoed, got %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Expected credentials for an explicit origin")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Expected unknown origin to be ignored")
	}
}
