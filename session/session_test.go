package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-reviews/config"
)

const baseURL = "http://example.test"

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Delay = 0
	cfg.RandomDelay = 0
	cfg.WaitPoll = 10 * time.Millisecond
	return cfg
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func newMockedSession(t *testing.T) (*HTTPSession, *httpmock.MockTransport) {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	transport := httpmock.NewMockTransport()
	s.WithTransport(transport)
	return s, transport
}

func TestNavigateAndDocument(t *testing.T) {
	s, transport := newMockedSession(t)
	transport.RegisterResponder("GET", baseURL+"/book/show/1", htmlResponder(`<html><body><h1>Dune</h1></body></html>`))

	if _, err := s.Document(); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("document before navigate err = %v, want ErrNoDocument", err)
	}
	if err := s.Navigate(context.Background(), "/book/show/1"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	doc, err := s.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if got := doc.Find("h1").Text(); got != "Dune" {
		t.Fatalf("h1 = %q, want Dune", got)
	}
	if got := s.CurrentURL(); got != baseURL+"/book/show/1" {
		t.Fatalf("current url = %q", got)
	}
	if s.RequestCount() != 1 {
		t.Fatalf("requests = %d, want 1", s.RequestCount())
	}
}

func TestNavigateStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusInternalServerError, expected: "http_status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			s, transport := newMockedSession(t)
			transport.RegisterResponder("GET", baseURL+"/missing", httpmock.NewStringResponder(tt.status, ""))

			err := s.Navigate(context.Background(), baseURL+"/missing")
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := ErrorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q (err %v)", got, tt.expected, err)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: nil, statusCode: http.StatusBadGateway, expected: "http_status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestClickFollowsLinkTargets(t *testing.T) {
	s, transport := newMockedSession(t)
	transport.RegisterResponder("GET", baseURL+"/book/show/1", htmlResponder(`<html><body>
<a href="/book/show/1/reviews"><span>More reviews and ratings</span></a>
<button data-href="/book/show/1/reviews?page=2"><span data-testid="loadMore">Show more reviews</span></button>
<button id="dead"><span>Nothing</span></button>
</body></html>`))
	transport.RegisterResponder("GET", baseURL+"/book/show/1/reviews", htmlResponder(`<html><body><p>page 1</p></body></html>`))
	transport.RegisterResponderWithQuery("GET", baseURL+"/book/show/1/reviews", "page=2", htmlResponder(`<html><body><p>page 2</p></body></html>`))

	ctx := context.Background()
	if err := s.Navigate(ctx, "/book/show/1"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if err := s.Click(ctx, "#dead span"); !errors.Is(err, ErrNotActionable) {
		t.Fatalf("click dead button err = %v, want ErrNotActionable", err)
	}
	if err := s.Click(ctx, "#absent"); !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("click absent err = %v, want ErrElementNotFound", err)
	}

	if err := s.Click(ctx, `span[data-testid="loadMore"]`); err != nil {
		t.Fatalf("click load more: %v", err)
	}
	doc, _ := s.Document()
	if got := doc.Find("p").Text(); got != "page 2" {
		t.Fatalf("after load more p = %q, want page 2", got)
	}

	if err := s.Navigate(ctx, "/book/show/1"); err != nil {
		t.Fatalf("navigate back: %v", err)
	}
	if err := s.Click(ctx, `a:has(span:contains("More reviews and ratings"))`); err != nil {
		t.Fatalf("click entry: %v", err)
	}
	doc, _ = s.Document()
	if got := doc.Find("p").Text(); got != "page 1" {
		t.Fatalf("after entry click p = %q, want page 1", got)
	}
}

func TestWaitFor(t *testing.T) {
	s, transport := newMockedSession(t)
	loading := httpmock.NewStringResponse(200, `<html><body><div class="Spinner"></div></body></html>`)
	ready := httpmock.NewStringResponse(200, `<html><body><article class="ReviewCard"></article></body></html>`)
	transport.RegisterResponder("GET", baseURL+"/feed", httpmock.ResponderFromMultipleResponses(
		[]*http.Response{loading, ready},
	))

	ctx := context.Background()
	if err := s.Navigate(ctx, "/feed"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if ok, err := s.WaitFor(ctx, "article.ReviewCard", 0); ok || err != nil {
		t.Fatalf("zero timeout should only inspect the current snapshot: ok=%v err=%v", ok, err)
	}
	if s.RequestCount() != 1 {
		t.Fatalf("zero timeout reloaded the page: requests = %d", s.RequestCount())
	}
	if ok, err := s.WaitFor(ctx, "article.ReviewCard", time.Second); !ok || err != nil {
		t.Fatalf("expected review card after reload: ok=%v err=%v", ok, err)
	}
}

func TestWaitForReturnsReloadFailure(t *testing.T) {
	s, transport := newMockedSession(t)
	loading := httpmock.NewStringResponse(200, `<html><body><div class="Spinner"></div></body></html>`)
	broken := httpmock.NewStringResponse(http.StatusInternalServerError, "")
	transport.RegisterResponder("GET", baseURL+"/feed", httpmock.ResponderFromMultipleResponses(
		[]*http.Response{loading, broken},
	))

	ctx := context.Background()
	if err := s.Navigate(ctx, "/feed"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	ok, err := s.WaitFor(ctx, "article.ReviewCard", time.Second)
	if ok {
		t.Fatalf("wait matched on a failed reload")
	}
	if got := ErrorTypeLabel(err); got != "http_status" {
		t.Fatalf("label = %q, want http_status (err %v)", got, err)
	}
}

func TestWaitForGivesUpOnCancel(t *testing.T) {
	s, transport := newMockedSession(t)
	transport.RegisterResponder("GET", baseURL+"/feed", htmlResponder(`<html><body></body></html>`))

	if err := s.Navigate(context.Background(), "/feed"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := s.WaitFor(ctx, "article.ReviewCard", time.Minute)
	if ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitFor on a cancelled context = %v, %v; want false, context.Canceled", ok, err)
	}
}

func TestClosedSession(t *testing.T) {
	s, _ := newMockedSession(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Navigate(context.Background(), "/"); !errors.Is(err, ErrClosed) {
		t.Fatalf("navigate after close err = %v, want ErrClosed", err)
	}
}

func TestCookieCacheRoundTrip(t *testing.T) {
	cache := CookieCache{Path: filepath.Join(t.TempDir(), "nested", "cookies.json")}
	if _, err := cache.Load(); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("load missing cache err = %v, want ErrNotExist", err)
	}

	in := []*http.Cookie{{Name: "session_id", Value: "abc"}, {Name: "csrf", Value: "xyz", Path: "/"}}
	if err := cache.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := cache.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 || out[0].Name != "session_id" || out[0].Value != "abc" || out[1].Path != "/" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	info, err := os.Stat(cache.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("cache mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoginUsesCachedCookies(t *testing.T) {
	s, transport := newMockedSession(t)
	cache := CookieCache{Path: filepath.Join(t.TempDir(), "cookies.json")}
	if err := cache.Save([]*http.Cookie{{Name: "session_id", Value: "cached"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	auth := &Authenticator{Cache: cache, BaseURL: baseURL}
	if err := auth.Login(context.Background(), s); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := s.Cookies(); len(got) != 1 || got[0].Value != "cached" {
		t.Fatalf("cookies = %+v", got)
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("cached login made %d requests", transport.GetTotalCallCount())
	}
}

func TestLoginPromptSavesCookies(t *testing.T) {
	s, _ := newMockedSession(t)
	cache := CookieCache{Path: filepath.Join(t.TempDir(), "cookies.json")}
	var out strings.Builder

	auth := &Authenticator{
		Cache:   cache,
		BaseURL: baseURL,
		Prompt:  strings.NewReader("Cookie: session_id=pasted; locale=en\n"),
		Out:     &out,
	}
	if err := auth.Login(context.Background(), s); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out.String(), SignInPath) {
		t.Fatalf("prompt = %q", out.String())
	}
	saved, err := cache.Load()
	if err != nil {
		t.Fatalf("load saved cookies: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("saved cookies = %+v, want 2", saved)
	}
}

func TestLoginPromptRejectsEmptyInput(t *testing.T) {
	s, _ := newMockedSession(t)
	auth := &Authenticator{
		Cache:   CookieCache{Path: filepath.Join(t.TempDir(), "cookies.json")},
		BaseURL: baseURL,
		Prompt:  strings.NewReader("\n"),
	}
	if err := auth.Login(context.Background(), s); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("login err = %v, want ErrLoginFailed", err)
	}
}

func TestFormLogin(t *testing.T) {
	s, _ := newMockedSession(t)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", baseURL+SignInPath, htmlResponder(`<html><body>
<form action="/user/sign_in" method="post">
  <input type="hidden" name="authenticity_token" value="tok123">
  <input type="email" name="user[email]">
  <input type="password" name="user[password]">
</form></body></html>`))

	var posted url.Values
	transport.RegisterResponder("POST", baseURL+SignInPath, func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		posted = req.PostForm
		resp := httpmock.NewStringResponse(200, `<html><body><a href="/user/sign_out">Sign out</a></body></html>`)
		resp.Header.Set("Content-Type", "text/html")
		resp.Header.Add("Set-Cookie", "session_id=fresh; Path=/; Max-Age=3600; HttpOnly")
		return resp, nil
	})

	cache := CookieCache{Path: filepath.Join(t.TempDir(), "cookies.json")}
	auth := &Authenticator{
		Cache:     cache,
		BaseURL:   baseURL,
		Email:     "reader@example.test",
		Password:  "hunter2",
		Transport: transport,
	}
	if err := auth.Login(context.Background(), s); err != nil {
		t.Fatalf("login: %v", err)
	}

	if posted.Get("authenticity_token") != "tok123" {
		t.Fatalf("token not posted: %v", posted)
	}
	if posted.Get("user[email]") != "reader@example.test" || posted.Get("user[password]") != "hunter2" {
		t.Fatalf("credentials not posted: %v", posted)
	}
	cookies := s.Cookies()
	if len(cookies) != 1 || cookies[0].Value != "fresh" {
		t.Fatalf("session cookies = %+v", cookies)
	}
	saved, err := cache.Load()
	if err != nil {
		t.Fatalf("cookies not cached: %v", err)
	}
	if len(saved) != 1 || saved[0].Path != "/" || !saved[0].HttpOnly {
		t.Fatalf("cached cookie lost its attributes: %+v", saved)
	}
	if until := time.Until(saved[0].Expires); until <= 0 || until > time.Hour {
		t.Fatalf("cached cookie expires in %v, want within the hour", until)
	}
}

func TestCookieCacheDropsExpired(t *testing.T) {
	cache := CookieCache{Path: filepath.Join(t.TempDir(), "cookies.json")}
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	if err := cache.Save([]*http.Cookie{
		{Name: "session_id", Value: "old", Expires: past},
		{Name: "locale", Value: "en", Expires: future},
		{Name: "csrf", Value: "xyz"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := cache.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].Name != "locale" || got[1].Name != "csrf" {
		t.Fatalf("cookies = %+v, want locale and csrf", got)
	}

	if err := cache.Save([]*http.Cookie{{Name: "session_id", Value: "old", Expires: past}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := cache.Load(); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("load of an expired cache err = %v, want ErrNotExist", err)
	}
}

func TestNavigateDetectsSignOut(t *testing.T) {
	s, transport := newMockedSession(t)
	cache := CookieCache{Path: filepath.Join(t.TempDir(), "cookies.json")}
	if err := cache.Save([]*http.Cookie{{Name: "session_id", Value: "stale"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	auth := &Authenticator{Cache: cache, BaseURL: baseURL}
	if err := auth.Login(context.Background(), s); err != nil {
		t.Fatalf("login: %v", err)
	}

	redirect := httpmock.NewStringResponse(http.StatusFound, "")
	redirect.Header.Set("Location", SignInPath)
	transport.RegisterResponder("GET", baseURL+"/book/show/1", httpmock.ResponderFromResponse(redirect))
	transport.RegisterResponder("GET", baseURL+SignInPath, htmlResponder(`<html><body><form><input type="password"></form></body></html>`))

	err := s.Navigate(context.Background(), "/book/show/1")
	if !errors.Is(err, ErrSignedOut) {
		t.Fatalf("navigate err = %v, want ErrSignedOut", err)
	}
	if got := ErrorTypeLabel(err); got != "signed_out" {
		t.Fatalf("label = %q, want signed_out", got)
	}
	if _, err := os.Stat(cache.Path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("cookie cache still present after sign-out: %v", err)
	}
	if err := s.Navigate(context.Background(), SignInPath); err != nil {
		t.Fatalf("navigating to the sign-in form itself: %v", err)
	}
}
