package parser

import (
	"errors"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

// ErrMissingIdentity is returned for review units with no reviewer label.
// Such a unit cannot be deduplicated and is skipped.
var ErrMissingIdentity = errors.New("parser: review unit has no reviewer identity")

// ReviewUnit is one rendered review on a feed page. Every accessor except
// ShelfTags reports whether the underlying element was present.
type ReviewUnit interface {
	Label() (string, bool)
	RatingLabel() (string, bool)
	DateText() (string, bool)
	ContentText() (string, bool)
	LikesLabel() (string, bool)
	CommentsLabel() (string, bool)
	ShelfTags() []string
}

var reviewBy = regexp.MustCompile(`Review by\s+(.+)`)

// ReviewerID extracts the reviewer name from a "Review by <name>" label.
func ReviewerID(label string) (string, bool) {
	m := reviewBy.FindStringSubmatch(label)
	if m == nil {
		return "", false
	}
	id := strings.TrimSpace(m[1])
	return id, id != ""
}

// ExtractReview maps a unit to a record for book. Only a missing identity
// is an error; every other absent field falls back to its unknown value.
func ExtractReview(unit ReviewUnit, book models.BookRequest) (*models.ReviewRecord, error) {
	label, ok := unit.Label()
	if !ok {
		return nil, ErrMissingIdentity
	}
	reviewerID, ok := ReviewerID(label)
	if !ok {
		return nil, ErrMissingIdentity
	}

	record := &models.ReviewRecord{
		BookID:     book.BookID,
		Title:      book.Title,
		Author:     book.Author,
		ReviewerID: reviewerID,
		Rating:     models.RatingUnknown,
		ShelfTags:  []string{},
	}

	if rating, ok := unit.RatingLabel(); ok {
		record.Rating = RatingFromLabel(rating)
	}
	if date, ok := unit.DateText(); ok {
		record.Date = NormalizeText(date)
	}
	if text, ok := unit.ContentText(); ok {
		record.Text = strings.TrimSpace(text)
	}
	if likes, ok := unit.LikesLabel(); ok {
		record.Upvotes = LeadingCount(likes)
	}
	if comments, ok := unit.CommentsLabel(); ok {
		record.Comments = LeadingCount(comments)
	}
	for _, tag := range unit.ShelfTags() {
		if tag = NormalizeText(tag); tag != "" {
			record.ShelfTags = append(record.ShelfTags, tag)
		}
	}

	return record, nil
}
