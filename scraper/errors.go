package scraper

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-reviews/session"
)

// ErrFeedEntryUnavailable means the catalog entry never offered a link to
// its review feed. It ends the current book only.
var ErrFeedEntryUnavailable = errors.New("scraper: review feed entry unavailable")

// SessionFault wraps any failure of the browsing session while a book was
// being processed. Records gathered during that attempt are discarded and
// the session is replaced.
type SessionFault struct {
	BookID int
	Err    error
}

func (e *SessionFault) Error() string {
	return fmt.Errorf("session fault on book %d: %w", e.BookID, e.Err).Error()
}

func (e *SessionFault) Unwrap() error {
	return e.Err
}

// errorTypeLabel extends the session labels with the harvest outcomes.
func errorTypeLabel(err error) string {
	if errors.Is(err, ErrFeedEntryUnavailable) {
		return "feed_unavailable"
	}
	var recovered *panicError
	if errors.As(err, &recovered) {
		return "panic"
	}
	return session.ErrorTypeLabel(err)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
