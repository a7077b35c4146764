package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/parser"
	"github.com/aluiziolira/go-scrape-reviews/session"
)

// State is the phase a book is in while it is being harvested.
type State int

const (
	StateResolving State = iota
	StateNavigating
	StatePaging
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateNavigating:
		return "navigating"
	case StatePaging:
		return "paging"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HarvestState tracks one book's progress through its review feed.
type HarvestState struct {
	Remaining int
	Page      int
	Seen      map[string]struct{}
}

// NewHarvestState starts a book with quota minus the reviews already stored.
// seen holds the stored reviewer ids and is extended as reviews are accepted.
func NewHarvestState(quota, existing int, seen map[string]struct{}) *HarvestState {
	if seen == nil {
		seen = make(map[string]struct{})
	}
	return &HarvestState{
		Remaining: max(quota-existing, 0),
		Page:      1,
		Seen:      seen,
	}
}

// Feed is a paged list of rendered review units.
type Feed interface {
	// WaitForUnits reports whether at least one unit is visible within timeout.
	WaitForUnits(ctx context.Context, timeout time.Duration) (bool, error)
	// Units returns the units currently visible.
	Units() ([]parser.ReviewUnit, error)
	// LoadMore asks for further units and reports whether the feed advanced.
	// false with a nil error means the feed is exhausted.
	LoadMore(ctx context.Context, timeout time.Duration) (bool, error)
}

// HarvestOptions bounds the paging loop.
type HarvestOptions struct {
	FeedTimeout     time.Duration
	LoadMoreTimeout time.Duration
	MaxPages        int
}

// HarvestResult is what a paging loop accepted for one book.
type HarvestResult struct {
	Records    []*models.ReviewRecord
	Pages      int
	Skipped    int
	Duplicates int
}

// Harvest reads pages from feed until the quota in state is used up, the
// feed stops producing units, or MaxPages pages have been read. It never
// accepts more records than state.Remaining held on entry. An error from the
// feed is returned with the records accepted so far.
func Harvest(ctx context.Context, feed Feed, book models.BookRequest, state *HarvestState, opts HarvestOptions) (*HarvestResult, error) {
	result := &HarvestResult{}
	logger := slog.With(slog.Int("book_id", book.BookID))

	for state.Remaining > 0 {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		visible, err := feed.WaitForUnits(ctx, opts.FeedTimeout)
		if err != nil {
			return result, err
		}
		if !visible {
			logger.Debug("no review units visible", slog.Int("page", state.Page))
			break
		}
		units, err := feed.Units()
		if err != nil {
			return result, err
		}
		result.Pages++

		accepted := 0
		for _, unit := range units {
			if state.Remaining == 0 {
				break
			}
			record, err := parser.ExtractReview(unit, book)
			if err != nil {
				result.Skipped++
				continue
			}
			if _, ok := state.Seen[record.ReviewerID]; ok {
				result.Duplicates++
				continue
			}
			state.Seen[record.ReviewerID] = struct{}{}
			result.Records = append(result.Records, record)
			state.Remaining--
			accepted++
		}
		logger.Debug("page read",
			slog.Int("page", state.Page),
			slog.Int("units", len(units)),
			slog.Int("accepted", accepted),
			slog.Int("remaining", state.Remaining),
		)

		if state.Remaining == 0 {
			break
		}
		if opts.MaxPages > 0 && state.Page >= opts.MaxPages {
			logger.Info("page limit reached", slog.Int("pages", state.Page))
			break
		}
		advanced, err := feed.LoadMore(ctx, opts.LoadMoreTimeout)
		if err != nil {
			return result, err
		}
		if !advanced {
			logger.Debug("all reviews loaded or no more pages", slog.Int("page", state.Page))
			break
		}
		state.Page++
	}
	return result, nil
}

// Feed affordances on the catalog's review pages.
const (
	LoadMoreSelector = `span[data-testid="loadMore"]`
	NextPageSelector = `a[rel="next"]`
)

// documentFeed reads review units from the current document of a browser.
type documentFeed struct {
	browser session.Browser
	metrics *Metrics
}

// NewDocumentFeed returns a Feed over the document shown by browser.
func NewDocumentFeed(browser session.Browser, metrics *Metrics) Feed {
	return &documentFeed{browser: browser, metrics: metrics}
}

func (f *documentFeed) WaitForUnits(ctx context.Context, timeout time.Duration) (bool, error) {
	return f.browser.WaitFor(ctx, parser.ReviewCardSelector, timeout)
}

func (f *documentFeed) Units() ([]parser.ReviewUnit, error) {
	doc, err := f.browser.Document()
	if err != nil {
		return nil, err
	}
	return parser.ReviewUnits(doc), nil
}

func (f *documentFeed) LoadMore(ctx context.Context, timeout time.Duration) (bool, error) {
	found, err := f.browser.WaitFor(ctx, LoadMoreSelector+", "+NextPageSelector, timeout)
	if err != nil || !found {
		return false, err
	}
	for _, selector := range []string{LoadMoreSelector, NextPageSelector} {
		start := time.Now()
		err := f.browser.Click(ctx, selector)
		if errors.Is(err, session.ErrElementNotFound) || errors.Is(err, session.ErrNotActionable) {
			continue
		}
		f.metrics.IncRequest("load_more")
		f.metrics.ObserveDuration(time.Since(start))
		if err != nil {
			return false, fmt.Errorf("load more via %s: %w", selector, err)
		}
		return true, nil
	}
	return false, nil
}
