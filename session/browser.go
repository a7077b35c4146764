// Package session owns the browsing session used to read the catalog.
package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-reviews/config"
)

// Browser is the document source the harvester drives. Implementations are
// used from a single goroutine.
type Browser interface {
	// Navigate loads url, resolved against the current page, and makes it
	// the current document.
	Navigate(ctx context.Context, url string) error
	// Document returns a snapshot of the current document.
	Document() (*goquery.Document, error)
	// WaitFor reports whether selector matches within timeout. A page that
	// fails to reload while waiting is returned as an error.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	// Click activates the first element matching selector.
	Click(ctx context.Context, selector string) error
	Close() error
}

// HTTPSession is a Browser backed by a synchronous colly collector. It does
// not execute scripts: clicking an element follows its link target.
type HTTPSession struct {
	base      *url.URL
	collector *colly.Collector
	transport http.RoundTripper
	jar       http.CookieJar
	poll      time.Duration
	cache     *CookieCache

	current  *url.URL
	doc      *goquery.Document
	body     []byte
	final    *url.URL
	fetchErr error
	requests int
	closed   bool
}

// New builds a session configured from cfg.
func New(cfg *config.Config) (*HTTPSession, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	collector.WithTransport(transport)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	collector.SetCookieJar(jar)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &HTTPSession{
		base:      parsed,
		collector: collector,
		transport: transport,
		jar:       jar,
		poll:      cfg.WaitPoll,
	}
	s.configureHandlers()
	return s, nil
}

func (s *HTTPSession) configureHandlers() {
	s.collector.OnRequest(func(r *colly.Request) {
		s.requests++
		slog.Debug("session request", slog.String("url", r.URL.String()))
	})

	s.collector.OnResponse(func(r *colly.Response) {
		s.body = r.Body
		s.final = r.Request.URL
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		s.fetchErr = classifyError(err, statusCode)
	})
}

// WithTransport replaces the HTTP transport, e.g. with a mock in tests.
func (s *HTTPSession) WithTransport(transport http.RoundTripper) {
	s.transport = transport
	s.collector.WithTransport(transport)
}

// Jar exposes the cookie jar so a login client can share it.
func (s *HTTPSession) Jar() http.CookieJar {
	return s.jar
}

// SetCookies installs cookies for the catalog host.
func (s *HTTPSession) SetCookies(cookies []*http.Cookie) {
	s.jar.SetCookies(s.base, cookies)
}

// Cookies returns the cookies the session would send to the catalog host.
func (s *HTTPSession) Cookies() []*http.Cookie {
	return s.jar.Cookies(s.base)
}

// RequestCount returns the number of requests issued so far.
func (s *HTTPSession) RequestCount() int {
	return s.requests
}

// CurrentURL returns the URL of the current document, if any.
func (s *HTTPSession) CurrentURL() string {
	if s.current == nil {
		return ""
	}
	return s.current.String()
}

// Navigate implements Browser.
func (s *HTTPSession) Navigate(ctx context.Context, rawURL string) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(rawURL)
	if err != nil {
		return err
	}

	s.body, s.final, s.fetchErr = nil, nil, nil
	visitErr := s.collector.Visit(target.String())
	if s.fetchErr != nil {
		return fmt.Errorf("fetch %s: %w", target, s.fetchErr)
	}
	if visitErr != nil {
		return fmt.Errorf("fetch %s: %w", target, classifyError(visitErr, 0))
	}
	if s.body == nil {
		return fmt.Errorf("fetch %s: %w", target, ErrNoDocument)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(s.body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", target, err)
	}
	if s.final != nil {
		if s.final.Path == SignInPath && target.Path != SignInPath {
			s.forgetLogin()
			return fmt.Errorf("fetch %s: %w", target, ErrSignedOut)
		}
		target = s.final
	}
	doc.Url = target
	s.doc = doc
	s.current = target
	return nil
}

// forgetLogin drops the cached cookies that led to a sign-in redirect so the
// next session signs in again.
func (s *HTTPSession) forgetLogin() {
	if s.cache == nil {
		return
	}
	if err := s.cache.Clear(); err != nil {
		slog.Warn("clear cookie cache", slog.String("path", s.cache.Path), slog.Any("error", err))
		return
	}
	slog.Info("login expired, cookie cache cleared", slog.String("path", s.cache.Path))
}

// Document implements Browser.
func (s *HTTPSession) Document() (*goquery.Document, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.doc == nil {
		return nil, ErrNoDocument
	}
	return s.doc, nil
}

// WaitFor implements Browser. The current page is re-fetched every poll
// interval until selector matches or timeout elapses; a zero timeout checks
// the current snapshot once. Cancellation returns ctx.Err().
func (s *HTTPSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if s.doc != nil && s.doc.Find(selector).Length() > 0 {
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 || s.current == nil || s.closed {
			return false, nil
		}

		wait := min(s.poll, remaining)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}

		if err := s.Navigate(ctx, s.current.String()); err != nil {
			slog.Warn("reload while waiting failed",
				slog.String("selector", selector),
				slog.Any("error", err),
			)
			return false, err
		}
	}
}

// Click implements Browser by following the link target of the first match,
// its nearest ancestor with one, or its first descendant link.
func (s *HTTPSession) Click(ctx context.Context, selector string) error {
	doc, err := s.Document()
	if err != nil {
		return err
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	target, ok := linkTarget(sel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActionable, selector)
	}
	return s.Navigate(ctx, target)
}

// Close implements Browser.
func (s *HTTPSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.doc = nil
	if t, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

func (s *HTTPSession) resolve(rawURL string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	base := s.base
	if s.current != nil {
		base = s.current
	}
	return base.ResolveReference(ref), nil
}

var targetAttrs = []string{"href", "data-href", "formaction"}

func linkTarget(sel *goquery.Selection) (string, bool) {
	for node := sel; node.Length() > 0; node = node.Parent() {
		for _, attr := range targetAttrs {
			if value, ok := node.Attr(attr); ok && usableTarget(value) {
				return value, true
			}
		}
	}
	if href, ok := sel.Find("a[href]").First().Attr("href"); ok && usableTarget(href) {
		return href, true
	}
	return "", false
}

func usableTarget(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" || value == "#" {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(value), "javascript:")
}
