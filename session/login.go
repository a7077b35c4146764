package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// SignInPath is the catalog's sign-in form.
const SignInPath = "/user/sign_in"

// Authenticator establishes a signed-in session. Cached cookies are reused
// when present; otherwise it signs in with Email/Password, or asks the
// operator to paste a Cookie header, and caches the result.
type Authenticator struct {
	Cache     CookieCache
	BaseURL   string
	UserAgent string
	Email     string
	Password  string
	Prompt    io.Reader
	Out       io.Writer
	Transport http.RoundTripper
}

// Login installs session cookies into s.
func (a *Authenticator) Login(ctx context.Context, s *HTTPSession) error {
	cookies, err := a.Cache.Load()
	if err == nil {
		slog.Info("loading saved cookies",
			slog.String("path", a.Cache.Path),
			slog.Int("cookies", len(cookies)),
		)
		s.SetCookies(cookies)
		s.cache = &a.Cache
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load cookie cache: %w", err)
	}

	var issued []*http.Cookie
	if a.Email != "" {
		slog.Info("no saved login, signing in", slog.String("email", a.Email))
		issued, err = a.formLogin(ctx, s.Jar())
	} else {
		slog.Info("no saved login, waiting for pasted cookies")
		err = a.promptLogin(s)
	}
	if err != nil {
		return err
	}

	cookies = withAttributes(s.Cookies(), issued)
	if len(cookies) == 0 {
		return ErrLoginFailed
	}
	if err := a.Cache.Save(cookies); err != nil {
		return fmt.Errorf("save cookie cache: %w", err)
	}
	s.cache = &a.Cache
	slog.Info("cookies saved", slog.String("path", a.Cache.Path), slog.Int("cookies", len(cookies)))
	return nil
}

// formLogin submits the sign-in form and returns the cookies the catalog set
// along the way, with their attributes intact.
func (a *Authenticator) formLogin(ctx context.Context, jar http.CookieJar) ([]*http.Cookie, error) {
	client := resty.New()
	client.SetBaseURL(a.BaseURL)
	client.SetCookieJar(jar)
	client.SetTimeout(30 * time.Second)
	if a.UserAgent != "" {
		client.SetHeader("user-agent", a.UserAgent)
	}
	if a.Transport != nil {
		client.SetTransport(a.Transport)
	}

	res, err := client.R().
		SetContext(ctx).
		Get(SignInPath)
	if err != nil {
		return nil, fmt.Errorf("fetch sign-in form: %w", err)
	}
	if res.IsError() {
		return nil, classifyError(nil, res.StatusCode())
	}
	issued := res.Cookies()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse sign-in form: %w", err)
	}

	form := doc.Find("form").FilterFunction(func(_ int, f *goquery.Selection) bool {
		return f.Find(`input[type="password"]`).Length() > 0
	}).First()
	if form.Length() == 0 {
		return nil, fmt.Errorf("%w: sign-in form not found", ErrLoginFailed)
	}

	data := map[string]string{}
	form.Find(`input[type="hidden"]`).Each(func(_ int, input *goquery.Selection) {
		if name, ok := input.Attr("name"); ok && name != "" {
			data[name] = input.AttrOr("value", "")
		}
	})
	emailField := form.Find(`input[type="email"], input[name*="email"]`).First().AttrOr("name", "user[email]")
	passwordField := form.Find(`input[type="password"]`).First().AttrOr("name", "user[password]")
	data[emailField] = a.Email
	data[passwordField] = a.Password

	action := form.AttrOr("action", SignInPath)
	if strings.TrimSpace(action) == "" {
		action = SignInPath
	}

	res, err = client.R().
		SetContext(ctx).
		SetFormData(data).
		Post(action)
	if err != nil {
		return nil, fmt.Errorf("submit sign-in form: %w", err)
	}
	issued = append(issued, res.Cookies()...)
	if res.IsError() {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, classifyError(nil, res.StatusCode()))
	}

	doc, err = goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse sign-in response: %w", err)
	}
	if doc.Find(`input[type="password"]`).Length() > 0 {
		return nil, fmt.Errorf("%w: credentials rejected", ErrLoginFailed)
	}
	return issued, nil
}

func (a *Authenticator) promptLogin(s *HTTPSession) error {
	if a.Prompt == nil {
		return fmt.Errorf("%w: no credentials and no interactive input", ErrLoginFailed)
	}
	if a.Out != nil {
		fmt.Fprintf(a.Out, "No saved login. Sign in at %s%s in a browser and paste the Cookie header:\n", a.BaseURL, SignInPath)
	}

	line, err := bufio.NewReader(a.Prompt).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read cookie header: %w", err)
	}
	line = strings.TrimSpace(line)
	if len(line) >= len("cookie:") && strings.EqualFold(line[:len("cookie:")], "cookie:") {
		line = strings.TrimSpace(line[len("cookie:"):])
	}
	if line == "" {
		return fmt.Errorf("%w: empty cookie header", ErrLoginFailed)
	}

	cookies, err := http.ParseCookie(line)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	s.SetCookies(cookies)
	return nil
}

// withAttributes copies Domain, Path, Expires and the security flags from
// the Set-Cookie headers onto the jar's name/value pairs. Later headers win.
func withAttributes(jarCookies, issued []*http.Cookie) []*http.Cookie {
	byName := make(map[string]*http.Cookie, len(issued))
	for _, c := range issued {
		byName[c.Name] = c
	}
	out := make([]*http.Cookie, 0, len(jarCookies))
	for _, c := range jarCookies {
		merged := &http.Cookie{Name: c.Name, Value: c.Value}
		if src, ok := byName[c.Name]; ok {
			merged.Domain = src.Domain
			merged.Path = src.Path
			merged.Expires = src.Expires
			if src.MaxAge > 0 && src.Expires.IsZero() {
				merged.Expires = time.Now().Add(time.Duration(src.MaxAge) * time.Second)
			}
			merged.Secure = src.Secure
			merged.HttpOnly = src.HttpOnly
		}
		out = append(out, merged)
	}
	return out
}
