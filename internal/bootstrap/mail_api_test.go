package bootstrap

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"mailflow_server/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Environment:        "test",
		ProjectName:        "Mail Assistant Backend",
		GoogleClientID:     "client-id",
		GoogleClientSecret: "client-secret",
		GoogleRedirectURI:  "http://localhost:8000/api/auth/callback",
		FrontendURL:        "http://localhost:3000",
		DatabaseURL:        ":memory:",
		SecretKey:          "test-secret",
		TokenEncryptionKey: "test-secret",
		CacheCapacity:      16,
		CacheListTTL:       time.Minute,
		CacheDetailTTL:     time.Minute,
		SessionTTL:         time.Hour,
		GmailRateLimit:     5,
		GmailTimeout:       time.Second,
		AllowedOrigins:     []string{"http://localhost:3000"},
	}
}

func TestNewAPI_Routes(t *testing.T) {
	app, cleanup, err := NewAPI(testConfig())
	if err != nil {
		t.Fatalf("NewAPI() error = %v", err)
	}
	t.Cleanup(cleanup)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/api/health", http.StatusOK, `"status":"ok"`},
		{"ready", http.MethodGet, "/api/ready", http.StatusOK, `"database":"healthy"`},
		{"status anonymous", http.MethodGet, "/api/auth/status", http.StatusOK, `"authenticated":false`},
		{"me anonymous", http.MethodGet, "/api/auth/me", http.StatusUnauthorized, "AUTH_REQUIRED"},
		{"inbox without token", http.MethodGet, "/api/gmail/inbox", http.StatusUnauthorized, "AUTH_REQUIRED"},
		{"unknown route", http.MethodGet, "/api/nope", http.StatusNotFound, "NOT_FOUND"},
		{"metrics", http.MethodGet, "/api/metrics", http.StatusOK, `"db_pool"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tt.method, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body = %s, want %s", body, tt.wantBody)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
		})
	}
}

func TestNewAPI_LoginRedirect(t *testing.T) {
	app, cleanup, err := NewAPI(testConfig())
	if err != nil {
		t.Fatalf("NewAPI() error = %v", err)
	}
	t.Cleanup(cleanup)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	q := loc.Query()
	if loc.Host != "accounts.google.com" || q.Get("client_id") != "client-id" || q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Errorf("Location = %s", loc)
	}
	if q.Get("state") == "" {
		t.Error("missing state")
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestNewAPI_CORS(t *testing.T) {
	app, cleanup, err := NewAPI(testConfig())
	if err != nil {
		t.Fatalf("NewAPI() error = %v", err)
	}
	t.Cleanup(cleanup)

	req := httptest.NewRequest(http.MethodOptions, "/api/gmail/inbox", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q", got)
	}
}

func TestNewAPI_NoStoreScope(t *testing.T) {
	app, cleanup, err := NewAPI(testConfig())
	if err != nil {
		t.Fatalf("NewAPI() error = %v", err)
	}
	t.Cleanup(cleanup)

	tests := []struct {
		path string
		want string
	}{
		{"/api/health", ""},
		{"/api/ready", ""},
		{"/api/metrics", ""},
		{"/api/auth/status", "no-store"},
		{"/api/gmail/inbox", "no-store"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if got := resp.Header.Get("Cache-Control"); got != tt.want {
				t.Errorf("Cache-Control = %q, want %q", got, tt.want)
			}
		})
	}
}
