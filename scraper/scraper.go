// Package scraper drives the review harvest: it resolves each requested book
// to a catalog entry, pages through the entry's review feed, and hands new
// reviews to the store.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/matcher"
	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/parser"
	"github.com/aluiziolira/go-scrape-reviews/session"
	"github.com/aluiziolira/go-scrape-reviews/store"
)

// Catalog markup used while resolving a book.
const (
	CandidateSelector = "a.bookTitle"
	FeedEntrySelector = `a:has(span:contains("More reviews and ratings")), a:contains("More reviews and ratings")`
)

// SessionFactory opens a signed-in browsing session.
type SessionFactory func(ctx context.Context) (session.Browser, error)

// Scraper runs the per-book harvest loop over one browsing session at a time.
type Scraper struct {
	cfg        *config.Config
	newSession SessionFactory
	browser    session.Browser
	resolved   *expirable.LRU[string, string]
	Metrics    *Metrics

	errorsByType map[string]int
}

// NewScraper builds a scraper that opens sessions with factory.
func NewScraper(cfg *config.Config, factory SessionFactory) (*Scraper, error) {
	if factory == nil {
		return nil, errors.New("session factory is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Scraper{
		cfg:        cfg,
		newSession: factory,
		resolved:   expirable.NewLRU[string, string](cfg.ResolveCacheSize, nil, cfg.ResolveCacheTTL),
		Metrics:    NewMetrics(),
	}, nil
}

// Run harvests every book in order, persisting the store after each book
// that changed it. It stops early only when ctx is cancelled.
func (s *Scraper) Run(ctx context.Context, books []models.BookRequest, st *store.Store) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.errorsByType = make(map[string]int)
	result := &models.RunResult{
		StartTime:    time.Now(),
		BookCount:    len(books),
		ErrorsByType: s.errorsByType,
	}
	defer s.closeSession()

	var runErr error
	for i, book := range books {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if i > 0 && !s.pause(ctx) {
			runErr = ctx.Err()
			break
		}

		report, records, err := s.processBook(ctx, book, st)
		logger := slog.With(slog.Int("book_id", book.BookID), slog.String("title", book.Title))

		var fault *SessionFault
		switch {
		case errors.As(err, &fault):
			s.recordError(err)
			logger.Error("session fault, discarding book attempt", slog.Any("error", err))
			records = nil
			report.Accepted = 0
			if s.browser != nil {
				s.closeSession()
				s.Metrics.IncRestart()
				result.SessionRestarts++
			}
		case errors.Is(err, ErrFeedEntryUnavailable):
			s.recordError(err)
			logger.Warn("review feed not reachable", slog.String("href", report.Href))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			runErr = err
		case err != nil:
			s.recordError(err)
			logger.Error("book failed", slog.Any("error", err))
		}

		s.Metrics.IncBook(report.Outcome)
		s.Metrics.AddPages(report.Pages)
		result.Reports = append(result.Reports, report)

		if len(records) > 0 {
			st.Merge(records)
			s.Metrics.AddAccepted(len(records))
			result.AcceptedCount += len(records)
		}
		if st.Dirty() {
			n, err := st.Persist()
			if err != nil {
				result.PersistErrors++
				s.recordError(err)
				logger.Error("persist failed", slog.Any("error", err))
			} else {
				logger.Info("progress saved", slog.Int("reviews", n))
			}
		}

		if runErr != nil {
			break
		}
	}

	result.StoredCount = st.Len()
	result.EndTime = time.Now()
	return result, runErr
}

// processBook runs one book through the state machine. A panic anywhere in
// the attempt is reported as a SessionFault.
func (s *Scraper) processBook(ctx context.Context, book models.BookRequest, st *store.Store) (report models.HarvestReport, records []*models.ReviewRecord, err error) {
	report = models.HarvestReport{Book: book, Existing: st.ExistingCount(book.BookID)}
	logger := slog.With(slog.Int("book_id", book.BookID), slog.String("title", book.Title))

	defer func() {
		if r := recover(); r != nil {
			err = &SessionFault{BookID: book.BookID, Err: &panicError{value: r}}
		}
		var fault *SessionFault
		switch {
		case errors.As(err, &fault):
			report.Outcome = models.OutcomeFault
		case report.Outcome == "" && err != nil:
			report.Outcome = models.OutcomeInterrupted
		}
	}()

	if report.Existing >= s.cfg.ReviewQuota {
		logger.Info("quota already met, skipping", slog.Int("existing", report.Existing))
		report.Outcome = models.OutcomeQuotaFull
		return report, nil, nil
	}
	logger.Info("harvesting book",
		slog.Int("existing", report.Existing),
		slog.Int("wanted", s.cfg.ReviewQuota-report.Existing),
	)

	browser, err := s.session(ctx)
	if err != nil {
		return report, nil, &SessionFault{BookID: book.BookID, Err: err}
	}

	state := StateResolving
	title := parser.NormalizeTitle(book.Title)
	href, ok, err := s.resolve(ctx, browser, title, book.Author)
	if err != nil {
		return report, nil, s.fault(ctx, book, state, err)
	}
	if !ok {
		logger.Warn("no matching catalog entry", slog.String("query", title))
		report.Outcome = models.OutcomeNoMatch
		return report, nil, nil
	}
	report.Href = href

	state = StateNavigating
	if err := s.openFeed(ctx, browser, href); err != nil {
		if errors.Is(err, ErrFeedEntryUnavailable) {
			logger.Debug("book finished", slog.String("state", StateFailed.String()))
			report.Outcome = models.OutcomeFeedMissing
			return report, nil, err
		}
		return report, nil, s.fault(ctx, book, state, err)
	}

	state = StatePaging
	harvest := NewHarvestState(s.cfg.ReviewQuota, report.Existing, st.ReviewerIDs(book.BookID))
	res, err := Harvest(ctx, NewDocumentFeed(browser, s.Metrics), book, harvest, HarvestOptions{
		FeedTimeout:     s.cfg.FeedTimeout,
		LoadMoreTimeout: s.cfg.LoadMoreTimeout,
		MaxPages:        s.cfg.MaxPages,
	})
	report.Pages = res.Pages
	report.Skipped = res.Skipped
	report.Accepted = len(res.Records)
	if err != nil {
		if ctx.Err() != nil {
			report.Outcome = models.OutcomeInterrupted
			return report, res.Records, ctx.Err()
		}
		return report, res.Records, s.fault(ctx, book, state, err)
	}

	report.Outcome = models.OutcomeComplete
	logger.Info("book done",
		slog.String("state", StateDone.String()),
		slog.Int("accepted", report.Accepted),
		slog.Int("pages", report.Pages),
		slog.Int("final_count", report.Existing+report.Accepted),
	)
	return report, res.Records, nil
}

// fault wraps err as a SessionFault unless the run itself was cancelled.
func (s *Scraper) fault(ctx context.Context, book models.BookRequest, state State, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Debug("book finished",
		slog.Int("book_id", book.BookID),
		slog.String("state", StateFailed.String()),
		slog.String("during", state.String()),
	)
	return &SessionFault{BookID: book.BookID, Err: err}
}

// resolve searches the catalog for title and returns the href of the best
// candidate. Matches are cached by title and author.
func (s *Scraper) resolve(ctx context.Context, browser session.Browser, title, author string) (string, bool, error) {
	key := strings.ToLower(title) + "\x00" + strings.ToLower(author)
	if href, ok := s.resolved.Get(key); ok {
		slog.Debug("resolution cache hit", slog.String("title", title))
		return href, true, nil
	}

	searchURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/search?q=" + url.QueryEscape(title)
	if err := s.navigate(ctx, browser, "search", searchURL); err != nil {
		return "", false, err
	}
	doc, err := browser.Document()
	if err != nil {
		return "", false, err
	}

	candidates := searchCandidates(doc)
	match, ok := matcher.Best(title, author, candidates)
	if !ok {
		return "", false, nil
	}
	href := absoluteURL(doc, match.Candidate.Href)
	slog.Debug("candidate selected",
		slog.String("title", title),
		slog.String("candidate", match.Candidate.Text),
		slog.Int("index", match.Index),
		slog.Float64("score", match.Score),
	)
	s.resolved.Add(key, href)
	return href, true, nil
}

func searchCandidates(doc *goquery.Document) []models.SearchCandidate {
	var candidates []models.SearchCandidate
	doc.Find(CandidateSelector).Each(func(_ int, sel *goquery.Selection) {
		candidates = append(candidates, models.SearchCandidate{
			Text: parser.NormalizeText(sel.Text()),
			Href: sel.AttrOr("href", ""),
		})
	})
	return candidates
}

func absoluteURL(doc *goquery.Document, href string) string {
	ref, err := url.Parse(href)
	if err != nil || doc.Url == nil {
		return href
	}
	return doc.Url.ResolveReference(ref).String()
}

// openFeed loads the catalog entry and follows its link to the review feed.
func (s *Scraper) openFeed(ctx context.Context, browser session.Browser, href string) error {
	if err := s.navigate(ctx, browser, "entry", href); err != nil {
		return err
	}
	found, err := browser.WaitFor(ctx, FeedEntrySelector, s.cfg.EntryTimeout)
	if err != nil {
		return err
	}
	if !found {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrFeedEntryUnavailable, href)
	}

	start := time.Now()
	err = browser.Click(ctx, FeedEntrySelector)
	s.Metrics.IncRequest("feed")
	s.Metrics.ObserveDuration(time.Since(start))
	if errors.Is(err, session.ErrElementNotFound) || errors.Is(err, session.ErrNotActionable) {
		return fmt.Errorf("%w: %w", ErrFeedEntryUnavailable, err)
	}
	return err
}

func (s *Scraper) navigate(ctx context.Context, browser session.Browser, phase, target string) error {
	start := time.Now()
	err := browser.Navigate(ctx, target)
	s.Metrics.IncRequest(phase)
	s.Metrics.ObserveDuration(time.Since(start))
	return err
}

// session returns the current browsing session, opening one if needed.
func (s *Scraper) session(ctx context.Context) (session.Browser, error) {
	if s.browser != nil {
		return s.browser, nil
	}
	browser, err := s.newSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	s.browser = browser
	return browser, nil
}

func (s *Scraper) closeSession() {
	if s.browser == nil {
		return
	}
	if err := s.browser.Close(); err != nil {
		slog.Warn("close session", slog.Any("error", err))
	}
	s.browser = nil
}

// pause waits BookPause between books. It reports false if ctx ends first.
func (s *Scraper) pause(ctx context.Context) bool {
	if s.cfg.BookPause <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.cfg.BookPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scraper) recordError(err error) {
	category := errorTypeLabel(err)
	s.errorsByType[category]++
	s.Metrics.IncError(category)
}
