package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/go-cmp/cmp"

	"mailflow_server/core/domain"
	"mailflow_server/core/port/in"
	"mailflow_server/infra/middleware"
	"mailflow_server/pkg/apperr"
	"mailflow_server/pkg/cache"
	"mailflow_server/pkg/metrics"
)

type fakeMail struct {
	mu       sync.Mutex
	calls    map[string]int
	inbox    *domain.PaginatedEmails
	detail   *domain.EmailDetail
	search   []*domain.EmailPreview
	err      error
	lastSend *in.SendRequest
	lastID   string
	lastBody string
	lastTo   []string
}

func newFakeMail() *fakeMail {
	return &fakeMail{calls: make(map[string]int)}
}

func (f *fakeMail) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.err
}

func (f *fakeMail) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeMail) ListInbox(_ context.Context, pageToken string) (*domain.PaginatedEmails, error) {
	if err := f.record("inbox:" + pageToken); err != nil {
		return nil, err
	}
	return f.inbox, nil
}

func (f *fakeMail) ListSent(_ context.Context, pageToken string) (*domain.PaginatedEmails, error) {
	if err := f.record("sent:" + pageToken); err != nil {
		return nil, err
	}
	return f.inbox, nil
}

func (f *fakeMail) Search(_ context.Context, query string) ([]*domain.EmailPreview, error) {
	if err := f.record("search:" + query); err != nil {
		return nil, err
	}
	return f.search, nil
}

func (f *fakeMail) GetDetail(_ context.Context, id string) (*domain.EmailDetail, error) {
	if err := f.record("detail:" + id); err != nil {
		return nil, err
	}
	return f.detail, nil
}

func (f *fakeMail) Send(_ context.Context, req *in.SendRequest) error {
	f.lastSend = req
	return f.record("send")
}

func (f *fakeMail) Reply(_ context.Context, id, body string) error {
	f.lastID, f.lastBody = id, body
	return f.record("reply")
}

func (f *fakeMail) Forward(_ context.Context, id string, to []string, body string) error {
	f.lastID, f.lastTo, f.lastBody = id, to, body
	return f.record("forward")
}

func (f *fakeMail) Delete(_ context.Context, id string) error {
	f.lastID = id
	return f.record("delete")
}

type fakeAuth struct {
	loginURL    string
	callbackErr error
	token       *domain.Token
	stored      map[string]bool
	profile     *domain.UserProfile
	profileErr  error
	loggedOut   string
	gotCode     string
	gotState    string
}

func (f *fakeAuth) LoginURL(context.Context) (string, error) { return f.loginURL, nil }

func (f *fakeAuth) HandleCallback(_ context.Context, code, state string) (*domain.Token, error) {
	f.gotCode, f.gotState = code, state
	if f.callbackErr != nil {
		return nil, f.callbackErr
	}
	return f.token, nil
}

func (f *fakeAuth) Status(_ context.Context, email string) (bool, error) {
	return email != "" && f.stored[email], nil
}

func (f *fakeAuth) Profile(_ context.Context, email string) (*domain.UserProfile, error) {
	if email == "" {
		return nil, apperr.AuthRequired("User must login")
	}
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profile, nil
}

func (f *fakeAuth) Logout(_ context.Context, email string) error {
	f.loggedOut = email
	return nil
}

type testServer struct {
	app      *fiber.App
	sessions *middleware.Sessions
	cache    *cache.LRU
}

func newTestServer(t *testing.T, mail in.MailService, auth in.AuthService) *testServer {
	t.Helper()
	sessions, err := middleware.NewSessions(middleware.SessionConfig{Secret: "test-secret", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewSessions() error = %v", err)
	}
	lru := cache.NewLRU(64, time.Minute)

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(middleware.RequestID(), sessions.Middleware())

	api := app.Group("/api")
	NewHealthHandler().Register(api)
	NewAuthHandler(auth, sessions, lru, "http://frontend.test/").Register(api)
	NewGmailHandler(mail, lru, 0, 0).Register(api)

	return &testServer{app: app, sessions: sessions, cache: lru}
}

func (s *testServer) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test(%s %s) error = %v", method, target, err)
	}
	return resp
}

func (s *testServer) sessionCookie(t *testing.T, email string) *http.Cookie {
	t.Helper()
	token, err := s.sessions.Sign(email)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return &http.Cookie{Name: middleware.SessionCookieName, Value: token}
}

func readJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var out middleware.ErrorResponse
	readJSON(t, resp, &out)
	return out.Error.Code
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, newFakeMail(), &fakeAuth{})

	resp := s.do(t, http.MethodGet, "/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]string
	readJSON(t, resp, &got)
	if diff := cmp.Diff(map[string]string{"status": "ok"}, got); diff != "" {
		t.Errorf("health mismatch (-want +got):\n%s", diff)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		db         HealthChecker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "healthy",
			db:         PingFunc(func(context.Context) error { return nil }),
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"database": "healthy", "redis": "not configured", "gmail": "closed"},
		},
		{
			name:       "database down",
			db:         PingFunc(func(context.Context) error { return errors.New("refused") }),
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "unhealthy: refused", "redis": "not configured", "gmail": "closed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			NewHealthHandler().
				WithCheck("database", tt.db).
				WithCheck("redis", nil).
				WithCircuit(func() string { return "closed" }).
				Register(app)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var got struct {
				Checks map[string]string `json:"checks"`
			}
			readJSON(t, resp, &got)
			if diff := cmp.Diff(tt.wantChecks, got.Checks); diff != "" {
				t.Errorf("checks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAuth_Login(t *testing.T) {
	s := newTestServer(t, newFakeMail(), &fakeAuth{loginURL: "https://accounts.example.com/auth?state=abc"})

	resp := s.do(t, http.MethodGet, "/api/auth/login", "")
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "https://accounts.example.com/auth?state=abc" {
		t.Errorf("Location = %q", got)
	}
}

func TestAuth_Callback(t *testing.T) {
	auth := &fakeAuth{token: &domain.Token{Email: "alice@example.com"}}
	s := newTestServer(t, newFakeMail(), auth)
	_ = s.cache.Set(context.Background(), gmailCachePrefix+"inbox:", []byte(`{}`), time.Minute)

	resp := s.do(t, http.MethodGet, "/api/auth/callback?code=c1&state=s1", "")
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "http://frontend.test" {
		t.Errorf("Location = %q", got)
	}
	if auth.gotCode != "c1" || auth.gotState != "s1" {
		t.Errorf("callback args = %q, %q", auth.gotCode, auth.gotState)
	}

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			session = c
		}
	}
	if session == nil || session.Value == "" {
		t.Fatalf("session cookie not set: %v", resp.Header.Values("Set-Cookie"))
	}
	if email, err := s.sessions.Parse(session.Value); err != nil || email != "alice@example.com" {
		t.Errorf("session = %q, %v", email, err)
	}
	if s.cache.Len() != 0 {
		t.Errorf("cache entries = %d, want purge on login", s.cache.Len())
	}
}

func TestAuth_CallbackErrors(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		err       error
		wantError string
	}{
		{"consent denied", "?error=access_denied", nil, "access_denied"},
		{"invalid state", "?code=c&state=bad", apperr.InvalidState(), "invalid_state"},
		{"exchange failed", "?code=c&state=s", apperr.OAuthFailed("google", errors.New("boom")), "oauth_failed"},
		{"plain error", "?code=c&state=s", errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, newFakeMail(), &fakeAuth{callbackErr: tt.err})

			resp := s.do(t, http.MethodGet, "/api/auth/callback"+tt.query, "")
			if resp.StatusCode != http.StatusTemporaryRedirect {
				t.Fatalf("status = %d, want 307", resp.StatusCode)
			}
			loc, err := url.Parse(resp.Header.Get("Location"))
			if err != nil {
				t.Fatalf("parse Location: %v", err)
			}
			if loc.Host != "frontend.test" || loc.Query().Get("error") != tt.wantError {
				t.Errorf("Location = %s, want error=%s", loc, tt.wantError)
			}
		})
	}
}

func TestAuth_Status(t *testing.T) {
	s := newTestServer(t, newFakeMail(), &fakeAuth{stored: map[string]bool{"alice@example.com": true}})

	tests := []struct {
		name    string
		cookies []*http.Cookie
		want    bool
	}{
		{"anonymous", nil, false},
		{"stored", []*http.Cookie{s.sessionCookie(t, "alice@example.com")}, true},
		{"no token", []*http.Cookie{s.sessionCookie(t, "bob@example.com")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodGet, "/api/auth/status", "", tt.cookies...)
			var got map[string]bool
			readJSON(t, resp, &got)
			if got["authenticated"] != tt.want {
				t.Errorf("authenticated = %v, want %v", got["authenticated"], tt.want)
			}
		})
	}
}

func TestAuth_Me(t *testing.T) {
	profile := &domain.UserProfile{Email: "alice@example.com", Name: "Alice", Picture: "https://img.example.com/a.png"}
	s := newTestServer(t, newFakeMail(), &fakeAuth{profile: profile})

	resp := s.do(t, http.MethodGet, "/api/auth/me", "")
	if resp.StatusCode != http.StatusUnauthorized || errorCode(t, resp) != apperr.CodeAuthRequired {
		t.Errorf("anonymous /me status = %d", resp.StatusCode)
	}

	resp = s.do(t, http.MethodGet, "/api/auth/me", "", s.sessionCookie(t, "alice@example.com"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got domain.UserProfile
	readJSON(t, resp, &got)
	if diff := cmp.Diff(*profile, got); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}

	failing := newTestServer(t, newFakeMail(), &fakeAuth{profileErr: apperr.AuthFailed(errors.New("revoked"))})
	resp = failing.do(t, http.MethodGet, "/api/auth/me", "", failing.sessionCookie(t, "alice@example.com"))
	if resp.StatusCode != http.StatusUnauthorized || errorCode(t, resp) != apperr.CodeAuthFailed {
		t.Errorf("failing /me status = %d", resp.StatusCode)
	}
}

func TestAuth_Logout(t *testing.T) {
	auth := &fakeAuth{}
	s := newTestServer(t, newFakeMail(), auth)
	_ = s.cache.Set(context.Background(), gmailCachePrefix+"message:1", []byte(`{}`), time.Minute)

	resp := s.do(t, http.MethodGet, "/api/auth/logout", "", s.sessionCookie(t, "alice@example.com"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]string
	readJSON(t, resp, &got)
	if got["message"] != "Logged out successfully" {
		t.Errorf("body = %v", got)
	}
	if auth.loggedOut != "alice@example.com" {
		t.Errorf("Logout() email = %q", auth.loggedOut)
	}
	if !strings.Contains(resp.Header.Get("Set-Cookie"), middleware.SessionCookieName+"=;") {
		t.Errorf("Set-Cookie = %q", resp.Header.Get("Set-Cookie"))
	}
	if s.cache.Len() != 0 {
		t.Errorf("cache entries = %d, want purge on logout", s.cache.Len())
	}
}

func TestGmail_InboxCached(t *testing.T) {
	next := "page-2"
	mail := newFakeMail()
	mail.inbox = &domain.PaginatedEmails{
		Messages:      []*domain.EmailPreview{{ID: "m1", Sender: "Bob <bob@example.com>", Subject: "Hi", Unread: true}},
		NextPageToken: &next,
	}
	s := newTestServer(t, mail, &fakeAuth{})

	first := s.do(t, http.MethodGet, "/api/gmail/inbox", "")
	if first.StatusCode != http.StatusOK || first.Header.Get(cacheHeader) != "MISS" {
		t.Fatalf("first status = %d, X-Cache = %q", first.StatusCode, first.Header.Get(cacheHeader))
	}
	var page domain.PaginatedEmails
	readJSON(t, first, &page)
	if len(page.Messages) != 1 || page.Messages[0].ID != "m1" || page.NextPageToken == nil || *page.NextPageToken != "page-2" {
		t.Errorf("page = %+v", page)
	}

	second := s.do(t, http.MethodGet, "/api/gmail/inbox", "")
	if second.Header.Get(cacheHeader) != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", second.Header.Get(cacheHeader))
	}
	if n := mail.count("inbox:"); n != 1 {
		t.Errorf("ListInbox calls = %d, want 1", n)
	}

	s.do(t, http.MethodGet, "/api/gmail/inbox?page_token=page-2", "")
	if n := mail.count("inbox:page-2"); n != 1 {
		t.Errorf("ListInbox(page-2) calls = %d, want 1", n)
	}
}

func TestGmail_MutationsPurgeCache(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		status string
	}{
		{"send", http.MethodPost, "/api/gmail/send", `{"to":["a@example.com"],"subject":"s","body":"b"}`, "sent"},
		{"reply", http.MethodPost, "/api/gmail/messages/m1/reply", `{"body":"thanks"}`, "sent"},
		{"forward", http.MethodPost, "/api/gmail/messages/m1/forward", `{"to":["c@example.com"],"body":"fyi"}`, "sent"},
		{"delete", http.MethodDelete, "/api/gmail/messages/m1", "", "deleted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mail := newFakeMail()
			mail.inbox = &domain.PaginatedEmails{Messages: []*domain.EmailPreview{}}
			s := newTestServer(t, mail, &fakeAuth{})

			s.do(t, http.MethodGet, "/api/gmail/inbox", "")
			if s.cache.Len() != 1 {
				t.Fatalf("cache entries = %d, want 1", s.cache.Len())
			}

			resp := s.do(t, tt.method, tt.target, tt.body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var got map[string]string
			readJSON(t, resp, &got)
			if got["status"] != tt.status {
				t.Errorf("status field = %q, want %q", got["status"], tt.status)
			}
			if s.cache.Len() != 0 {
				t.Errorf("cache entries = %d after %s, want 0", s.cache.Len(), tt.name)
			}
		})
	}
}

func TestGmail_RequestPayloads(t *testing.T) {
	mail := newFakeMail()
	s := newTestServer(t, mail, &fakeAuth{})

	s.do(t, http.MethodPost, "/api/gmail/send", `{"to":["a@example.com","b@example.com"],"subject":"Hello","body":"Hi"}`)
	want := &in.SendRequest{To: []string{"a@example.com", "b@example.com"}, Subject: "Hello", Body: "Hi"}
	if diff := cmp.Diff(want, mail.lastSend); diff != "" {
		t.Errorf("send request mismatch (-want +got):\n%s", diff)
	}

	s.do(t, http.MethodPost, "/api/gmail/messages/abc123/forward", `{"to":["c@example.com"],"body":"fyi"}`)
	if mail.lastID != "abc123" || mail.lastBody != "fyi" || len(mail.lastTo) != 1 || mail.lastTo[0] != "c@example.com" {
		t.Errorf("forward args = %q %v %q", mail.lastID, mail.lastTo, mail.lastBody)
	}
}

func TestGmail_Errors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{"search without q", http.MethodGet, "/api/gmail/search?q=%20", "", nil, http.StatusBadRequest, apperr.CodeMissingField},
		{"not logged in", http.MethodGet, "/api/gmail/inbox", "", apperr.AuthRequired("User must login again"), http.StatusUnauthorized, apperr.CodeAuthRequired},
		{"refresh failed", http.MethodGet, "/api/gmail/sent", "", apperr.AuthFailed(errors.New("invalid_grant")), http.StatusUnauthorized, apperr.CodeAuthFailed},
		{"missing message", http.MethodGet, "/api/gmail/messages/nope", "", apperr.NotFound("message"), http.StatusNotFound, apperr.CodeNotFound},
		{"bad id", http.MethodGet, "/api/gmail/messages/bad.id", "", nil, http.StatusBadRequest, apperr.CodeValidationFailed},
		{"bad json", http.MethodPost, "/api/gmail/send", `{"to":`, nil, http.StatusBadRequest, apperr.CodeBadRequest},
		{"bad recipient", http.MethodPost, "/api/gmail/send", `{"to":["nope"]}`, apperr.ValidationFailed("invalid recipient"), http.StatusBadRequest, apperr.CodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mail := newFakeMail()
			mail.err = tt.serviceErr
			s := newTestServer(t, mail, &fakeAuth{})

			resp := s.do(t, tt.method, tt.target, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if code := errorCode(t, resp); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
			if s.cache.Len() != 0 {
				t.Errorf("errors must not be cached, entries = %d", s.cache.Len())
			}
		})
	}
}

func TestGmail_SearchAndDetail(t *testing.T) {
	mail := newFakeMail()
	mail.search = []*domain.EmailPreview{{ID: "s1"}, {ID: "s2"}}
	mail.detail = &domain.EmailDetail{ID: "d1", Body: "hello", Dataset: "gmail"}
	s := newTestServer(t, mail, &fakeAuth{})

	resp := s.do(t, http.MethodGet, "/api/gmail/search?q=from%3Abob", "")
	var results []*domain.EmailPreview
	readJSON(t, resp, &results)
	if len(results) != 2 || mail.count("search:from:bob") != 1 {
		t.Errorf("search results = %d, calls = %v", len(results), mail.calls)
	}

	resp = s.do(t, http.MethodGet, "/api/gmail/messages/d1", "")
	var detail domain.EmailDetail
	readJSON(t, resp, &detail)
	if detail.ID != "d1" || detail.Dataset != "gmail" || detail.Body != "hello" {
		t.Errorf("detail = %+v", detail)
	}
}

func TestMetrics(t *testing.T) {
	registry := metrics.NewLatencyRegistry(10)
	registry.Record("GET /api/gmail/inbox", 2*time.Millisecond)
	lru := cache.NewLRU(4, time.Minute)
	_ = lru.Set(context.Background(), "k", []byte("v"), 0)

	app := fiber.New()
	NewMetricsHandler(registry, nil, lru).Register(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	var got struct {
		Latency map[string]metrics.LatencyStats `json:"latency"`
		Cache   cache.Stats                     `json:"cache"`
		DBPool  metrics.PoolStats               `json:"db_pool"`
	}
	readJSON(t, resp, &got)
	if got.Latency["GET /api/gmail/inbox"].Count != 1 {
		t.Errorf("latency = %+v", got.Latency)
	}
	if got.Cache.Items != 1 || got.Cache.Capacity != 4 {
		t.Errorf("cache = %+v", got.Cache)
	}
	if got.DBPool.Status != metrics.PoolHealthy {
		t.Errorf("db_pool = %+v", got.DBPool)
	}
}
