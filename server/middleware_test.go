package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		setup      func(*http.Request)
		wantStatus int
	}{
		{
			name:       "no auth configured",
			wantStatus: http.StatusOK,
		},
		{
			name:       "token accepted",
			env:        map[string]string{"ADMIN_TOKEN": "t0ken"},
			setup:      func(r *http.Request) { r.Header.Set("X-Admin-Token", "t0ken") },
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong token",
			env:        map[string]string{"ADMIN_TOKEN": "t0ken"},
			setup:      func(r *http.Request) { r.Header.Set("X-Admin-Token", "nope") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic auth accepted",
			env:        map[string]string{"ADMIN_USERNAME": "host", "ADMIN_PASSWORD": "pages"},
			setup:      func(r *http.Request) { r.SetBasicAuth("host", "pages") },
			wantStatus: http.StatusOK,
		},
		{
			name:       "basic auth wrong password",
			env:        map[string]string{"ADMIN_USERNAME": "host", "ADMIN_PASSWORD": "pages"},
			setup:      func(r *http.Request) { r.SetBasicAuth("host", "chapters") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "token wins over bad basic auth",
			env:        map[string]string{"ADMIN_TOKEN": "t0ken", "ADMIN_USERNAME": "host", "ADMIN_PASSWORD": "pages"},
			setup:      func(r *http.Request) { r.Header.Set("X-Admin-Token", "t0ken"); r.SetBasicAuth("x", "y") },
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ADMIN_TOKEN", "ADMIN_USERNAME", "ADMIN_PASSWORD"} {
				t.Setenv(k, tt.env[k])
			}
			h := newTestMux(t, newTestDeps(t))

			req := httptest.NewRequest(http.MethodGet, "/admin/rooms", nil)
			if tt.setup != nil {
				tt.setup(req)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if got := rr.Header().Get("WWW-Authenticate"); got != `Basic realm="bookclub-live admin"` {
					t.Errorf("WWW-Authenticate = %q", got)
				}
			}
		})
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	tests := []struct {
		name        string
		enabled     string
		requests    string
		window      string
		wantEnabled bool
		wantReqs    int
		wantWindow  time.Duration
	}{
		{"defaults", "", "", "", true, 30, time.Minute},
		{"overrides", "1", "5", "10", true, 5, 10 * time.Second},
		{"disabled", "0", "", "", false, 30, time.Minute},
		{"invalid values keep defaults", "", "-3", "zero", true, 30, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RATE_LIMIT_ENABLED", tt.enabled)
			t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", tt.requests)
			t.Setenv("RATE_LIMIT_WINDOW_SECONDS", tt.window)
			cfg := loadRateLimiterConfig()
			if cfg.enabled != tt.wantEnabled || cfg.requestsPerIP != tt.wantReqs || cfg.window != tt.wantWindow {
				t.Errorf("config = %+v, want enabled=%v requests=%d window=%v", *cfg, tt.wantEnabled, tt.wantReqs, tt.wantWindow)
			}
		})
	}
}

func TestTokenBucketRefill(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: 3 * time.Second})

	start := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		if !rl.allowAt("203.0.113.9", start) {
			t.Fatalf("burst request %d denied", i+1)
		}
	}
	if rl.allowAt("203.0.113.9", start) {
		t.Fatal("request beyond the burst allowed")
	}
	if !rl.allowAt("198.51.100.1", start) {
		t.Error("another client shares the exhausted bucket")
	}

	// one token comes back every window/requests, not only after the whole window
	if rl.allowAt("203.0.113.9", start.Add(500*time.Millisecond)) {
		t.Error("token refilled too early")
	}
	if !rl.allowAt("203.0.113.9", start.Add(time.Second)) {
		t.Error("token not refilled after window/requests")
	}
	if rl.allowAt("203.0.113.9", start.Add(time.Second)) {
		t.Error("refill granted more than one token")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 30, window: time.Minute})

	now := time.Now()
	rl.allowAt("idle", now.Add(-3*time.Minute))
	rl.allowAt("active", now)
	rl.cleanupAt(now)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["idle"]; ok {
		t.Error("idle visitor kept")
	}
	if _, ok := rl.visitors["active"]; !ok {
		t.Error("active visitor dropped")
	}
}

func TestChatRoutesAreRateLimited(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "2")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "60")
	h := newTestMux(t, newTestDeps(t))
	do(t, h, http.MethodPost, "/rooms/busy/connect", `{"host":true}`)

	post := func(path, body, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", ip)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := post("/rooms/busy/messages", `{"body":"hello"}`, "203.0.113.5"); rr.Code != http.StatusCreated {
			t.Fatalf("message %d = %d", i+1, rr.Code)
		}
	}
	rr := post("/rooms/busy/messages", `{"body":"one too many"}`, "203.0.113.5")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third message = %d, want 429", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}

	// reaction taps draw from the same per-client budget
	if rr := post("/rooms/busy/reactions", `{"kind":"love"}`, "203.0.113.5"); rr.Code != http.StatusTooManyRequests {
		t.Errorf("reaction from exhausted client = %d, want 429", rr.Code)
	}
	if rr := post("/rooms/busy/reactions", `{"kind":"love"}`, "198.51.100.7"); rr.Code != http.StatusCreated {
		t.Errorf("reaction from another client = %d, want 201", rr.Code)
	}

	// reads and lifecycle calls are not limited
	for i := 0; i < 5; i++ {
		if rr := do(t, h, http.MethodGet, "/rooms/busy/messages", ""); rr.Code != http.StatusOK {
			t.Fatalf("GET messages = %d", rr.Code)
		}
	}
}

func TestRateLimitDisabled(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "1")
	h := newTestMux(t, newTestDeps(t))
	do(t, h, http.MethodPost, "/rooms/open/connect", `{"host":true}`)

	for i := 0; i < 5; i++ {
		if rr := do(t, h, http.MethodPost, "/rooms/open/messages", `{"body":"hi"}`); rr.Code != http.StatusCreated {
			t.Fatalf("message %d = %d with limiting disabled", i+1, rr.Code)
		}
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		allowed     string
		origin      string
		wantOrigin  string
		wantMethods bool
	}{
		{"dev allows any origin", "", "", "https://anywhere.io", "*", true},
		{"production allowed origin", "production", "https://club.example.com", "https://club.example.com", "https://club.example.com", true},
		{"production foreign origin", "production", "https://club.example.com", "https://evil.com", "", false},
		{"production wildcard subdomain", "production", "*.example.com", "https://live.example.com", "https://live.example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			t.Setenv("CORS_PERMISSIVE", "")
			t.Setenv("CORS_ALLOWED_ORIGINS", tt.allowed)
			h := newTestMux(t, newTestDeps(t))

			req := httptest.NewRequest(http.MethodOptions, "/rooms/club/messages", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", rr.Code)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			methods := rr.Header().Get("Access-Control-Allow-Methods")
			if tt.wantMethods != strings.Contains(methods, "DELETE") {
				t.Errorf("Allow-Methods = %q", methods)
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://club.example.com", "*.reading.org"}
	tests := map[string]bool{
		"https://club.example.com":    true,
		"http://club.example.com":     false,
		"https://other.example.com":   false,
		"https://tuesday.reading.org": true,
		"https://reading.org":         true,
		"https://notreading.org":      false,
	}
	for origin, want := range tests {
		if got := isOriginAllowed(origin, allowed); got != want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", origin, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote    string
		forwarded string
		want      string
	}{
		{"192.168.1.1:12345", "", "192.168.1.1"},
		{"[2001:db8::1]:443", "", "2001:db8::1"},
		{"10.0.0.1:80", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"10.0.0.1:80", "2001:db8::42", "2001:db8::42"},
		{"192.168.1.1", "", "192.168.1.1"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if tt.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tt.forwarded)
		}
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q, %q) = %q, want %q", tt.remote, tt.forwarded, got, tt.want)
		}
	}
}

func TestOriginChecker(t *testing.T) {
	restricted := originChecker(&corsConfig{allowedOrigins: []string{"https://club.example.com"}})
	req := httptest.NewRequest(http.MethodGet, "/rooms/a/events", nil)
	if !restricted(req) {
		t.Error("requests without Origin (non-browser clients) should be accepted")
	}
	req.Header.Set("Origin", "https://evil.com")
	if restricted(req) {
		t.Error("foreign origin accepted in restricted mode")
	}
	req.Header.Set("Origin", "https://club.example.com")
	if !restricted(req) {
		t.Error("allowed origin rejected")
	}
	if !originChecker(&corsConfig{permissive: true})(req) {
		t.Error("permissive mode should accept every origin")
	}
}
