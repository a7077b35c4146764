// Package store keeps the harvested reviews between runs and rewrites the
// output snapshot after each book.
package store

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/parser"
)

// Store is the set of reviews keyed by (book id, reviewer id). It is owned by
// the harvest loop and is not safe for concurrent use.
type Store struct {
	snapshot Snapshot
	books    map[int]struct{}
	records  map[models.Key]*models.ReviewRecord
	perBook  map[int]map[string]struct{}
	dropped  int
	dirty    bool
}

// Open loads the prior snapshot, keeping only valid records for books in the
// current input list. A missing snapshot starts an empty store.
func Open(books []models.BookRequest, snapshot Snapshot) (*Store, error) {
	s := &Store{
		snapshot: snapshot,
		books:    make(map[int]struct{}, len(books)),
		records:  make(map[models.Key]*models.ReviewRecord),
		perBook:  make(map[int]map[string]struct{}),
	}
	for _, b := range books {
		s.books[b.BookID] = struct{}{}
	}

	prior, err := snapshot.Load()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", snapshot.Path(), err)
	}
	for _, r := range prior {
		if _, ok := s.books[r.BookID]; !ok {
			s.dropped++
			continue
		}
		if err := parser.ValidateReview(r); err != nil {
			slog.Debug("dropping stored review", slog.Any("error", err))
			s.dropped++
			continue
		}
		s.put(r)
	}
	s.dirty = s.dropped > 0

	slog.Info("store opened",
		slog.String("path", snapshot.Path()),
		slog.Int("reviews", len(s.records)),
		slog.Int("dropped", s.dropped),
	)
	return s, nil
}

// Len returns the number of stored reviews.
func (s *Store) Len() int {
	return len(s.records)
}

// Dropped returns how many prior rows were discarded on load.
func (s *Store) Dropped() int {
	return s.dropped
}

// Dirty reports whether the store differs from the last persisted snapshot.
func (s *Store) Dirty() bool {
	return s.dirty
}

// ExistingCount returns how many reviews are stored for bookID.
func (s *Store) ExistingCount(bookID int) int {
	return len(s.perBook[bookID])
}

// ReviewerIDs returns a copy of the reviewer ids stored for bookID.
func (s *Store) ReviewerIDs(bookID int) map[string]struct{} {
	ids := make(map[string]struct{}, len(s.perBook[bookID]))
	for id := range s.perBook[bookID] {
		ids[id] = struct{}{}
	}
	return ids
}

// Merge upserts records by (book id, reviewer id) and returns the full,
// ordered set. Merging the same records twice leaves the store unchanged.
func (s *Store) Merge(records []*models.ReviewRecord) []*models.ReviewRecord {
	for _, r := range records {
		if err := parser.ValidateReview(r); err != nil {
			slog.Warn("skipping invalid review", slog.Any("error", err))
			continue
		}
		s.put(r)
	}
	return s.Records()
}

// Records returns every stored review ordered by book id, then review date.
func (s *Store) Records() []*models.ReviewRecord {
	out := make([]*models.ReviewRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	slices.SortFunc(out, compareRecords)
	return out
}

// Persist rewrites the snapshot with every stored review and returns how many
// were written.
func (s *Store) Persist() (int, error) {
	records := s.Records()
	if err := s.snapshot.Write(records); err != nil {
		return 0, fmt.Errorf("persist %s: %w", s.snapshot.Path(), err)
	}
	s.dirty = false
	return len(records), nil
}

func (s *Store) put(r *models.ReviewRecord) {
	s.records[r.Key()] = r
	s.dirty = true
	ids, ok := s.perBook[r.BookID]
	if !ok {
		ids = make(map[string]struct{})
		s.perBook[r.BookID] = ids
	}
	ids[r.ReviewerID] = struct{}{}
}

// Review dates as the catalog renders them.
var dateLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// compareRecords orders by book id, then date: parsed dates chronologically,
// followed by unparseable dates by their text. Reviewer id breaks ties.
func compareRecords(a, b *models.ReviewRecord) int {
	if c := cmp.Compare(a.BookID, b.BookID); c != 0 {
		return c
	}
	ta, okA := parseDate(a.Date)
	tb, okB := parseDate(b.Date)
	switch {
	case okA && okB:
		if c := ta.Compare(tb); c != 0 {
			return c
		}
	case okA:
		return -1
	case okB:
		return 1
	default:
		if c := cmp.Compare(a.Date, b.Date); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ReviewerID, b.ReviewerID)
}
