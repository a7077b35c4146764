// Package models defines data structures for the harvester.
package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// NotAvailable is written in place of fields the catalog did not expose.
const NotAvailable = "N/A"

// BookRequest is one row of the input book list.
type BookRequest struct {
	BookID int    `csv:"Book ID" json:"book_id"`
	Title  string `csv:"Title" json:"title"`
	Author string `csv:"Author" json:"author"`
}

// SearchCandidate is a single entry on a catalog search results page.
type SearchCandidate struct {
	Text string
	Href string
}

// Rating is a 1 to 5 star rating. The zero value means the rating is unknown.
type Rating int

// RatingUnknown marks a review whose rating could not be read.
const RatingUnknown Rating = 0

// Known reports whether r is a valid star rating.
func (r Rating) Known() bool {
	return r >= 1 && r <= 5
}

// String renders the rating the way it is stored in the output file.
func (r Rating) String() string {
	if !r.Known() {
		return NotAvailable
	}
	return strconv.Itoa(int(r))
}

// ParseRating is the inverse of Rating.String. Anything else is unknown.
func ParseRating(s string) Rating {
	n, err := strconv.Atoi(s)
	if err != nil {
		return RatingUnknown
	}
	r := Rating(n)
	if !r.Known() {
		return RatingUnknown
	}
	return r
}

// MarshalJSON encodes an unknown rating as null.
func (r Rating) MarshalJSON() ([]byte, error) {
	if !r.Known() {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(r))), nil
}

// UnmarshalJSON accepts a number, a numeric string or null.
func (r *Rating) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*r = RatingUnknown
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = ParseRating(s)
		return nil
	}
	*r = ParseRating(string(data))
	return nil
}

// ReviewRecord is a single harvested review.
// Date and Text are empty when the catalog did not expose them.
type ReviewRecord struct {
	BookID     int      `csv:"book_id" json:"book_id"`
	Title      string   `csv:"title" json:"title"`
	Author     string   `csv:"author" json:"author"`
	ReviewerID string   `csv:"reviewer_ID" json:"reviewer_ID"`
	Rating     Rating   `csv:"review_rating" json:"review_rating"`
	Date       string   `csv:"review_date" json:"review_date,omitempty"`
	Text       string   `csv:"review_text" json:"review_text,omitempty"`
	Upvotes    int      `csv:"review_upvotes" json:"review_upvotes"`
	Comments   int      `csv:"review_comments" json:"review_comments"`
	ShelfTags  []string `csv:"review_shelf_tags" json:"review_shelf_tags"`
}

// Key identifies a review within the store.
type Key struct {
	BookID     int
	ReviewerID string
}

// Key returns the store key of the record.
func (r *ReviewRecord) Key() Key {
	return Key{BookID: r.BookID, ReviewerID: r.ReviewerID}
}

// HarvestReport describes how processing of one book ended.
type HarvestReport struct {
	Book     BookRequest
	Outcome  string
	Href     string
	Existing int
	Accepted int
	Pages    int
	Skipped  int
}

// Book outcomes recorded in HarvestReport.Outcome and the books metric.
const (
	OutcomeComplete    = "complete"
	OutcomeQuotaFull   = "quota_full"
	OutcomeNoMatch     = "no_match"
	OutcomeFeedMissing = "feed_unavailable"
	OutcomeFault       = "session_fault"
	OutcomeInterrupted = "interrupted"
)

// RunResult holds the overall result of a harvest run.
type RunResult struct {
	Reports         []HarvestReport
	StartTime       time.Time
	EndTime         time.Time
	BookCount       int
	AcceptedCount   int
	StoredCount     int
	SessionRestarts int
	PersistErrors   int
	ErrorsByType    map[string]int
}

// CountOutcome returns how many books ended with the given outcome.
func (r *RunResult) CountOutcome(outcome string) int {
	n := 0
	for _, report := range r.Reports {
		if report.Outcome == outcome {
			n++
		}
	}
	return n
}
