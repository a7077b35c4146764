// Package parser normalizes catalog text and turns rendered review units into records.
package parser

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

var bracketed = regexp.MustCompile(`(?s)\[.*?\]|\(.*?\)`)

// NormalizeTitle strips bracketed and parenthesized noise such as
// "(2019)" or "[Unabridged]" and collapses the whitespace left behind.
func NormalizeTitle(title string) string {
	cleaned := bracketed.ReplaceAllString(title, "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// NormalizeText trims spacing and collapses inner whitespace runs.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ValidateReview ensures a record carries the fields the store is keyed on.
func ValidateReview(r *models.ReviewRecord) error {
	if r == nil {
		return errors.New("review is nil")
	}
	if r.BookID <= 0 {
		return fmt.Errorf("review by %q missing book id", r.ReviewerID)
	}
	if strings.TrimSpace(r.ReviewerID) == "" {
		return fmt.Errorf("review for book %d missing reviewer id", r.BookID)
	}
	if r.Upvotes < 0 || r.Comments < 0 {
		return fmt.Errorf("review by %q has negative counters", r.ReviewerID)
	}
	return nil
}

var outOfFive = regexp.MustCompile(`(?i)(\d+)\s+out\s+of\s+5`)

// RatingFromLabel reads "<n> out of 5" from an accessibility label.
func RatingFromLabel(label string) models.Rating {
	m := outOfFive.FindStringSubmatch(label)
	if m == nil {
		return models.RatingUnknown
	}
	return models.ParseRating(m[1])
}

// LeadingCount parses the first token of labels like "1,204 likes". Commas
// are thousands separators; a decimal part is truncated.
func LeadingCount(label string) int {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return 0
	}
	token := strings.ReplaceAll(fields[0], ",", "")
	n, err := strconv.Atoi(token)
	if err != nil {
		f, ferr := strconv.ParseFloat(token, 64)
		if ferr != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0
		}
		n = int(f)
	}
	return max(n, 0)
}
