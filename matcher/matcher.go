// Package matcher picks the catalog entry that best fits a title/author query.
package matcher

import (
	"strings"

	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/parser"
)

// Scoring constants. They were tuned against sample search pages and should
// not change without re-checking real results.
const (
	AcceptThreshold     = 75.0
	TitleBonusThreshold = 90.0
	TitleBonus          = 10.0
	FirstResultBonus    = 5.0
)

// DeniedHrefTerms mark links to derivative works rather than the book itself.
var DeniedHrefTerms = []string{
	"summary",
	"study-guide",
	"workbook",
	"analysis",
	"notes",
	"review",
	"discussion",
}

// Score is the breakdown for one candidate.
type Score struct {
	Candidate models.SearchCandidate
	Index     int
	Denied    bool
	Title     float64
	Combined  float64
}

// Match is the accepted candidate.
type Match struct {
	Candidate models.SearchCandidate
	Index     int
	Score     float64
}

// Denied reports whether href points at a summary, study guide or similar.
func Denied(href string) bool {
	lower := strings.ToLower(href)
	for _, term := range DeniedHrefTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// ScoreAll scores every candidate in search order, including denied ones.
func ScoreAll(title, author string, candidates []models.SearchCandidate) []Score {
	query := strings.TrimSpace(title + " " + author)
	scores := make([]Score, 0, len(candidates))
	for i, c := range candidates {
		s := Score{Candidate: c, Index: i}
		if Denied(c.Href) {
			s.Denied = true
			scores = append(scores, s)
			continue
		}

		text := parser.NormalizeText(c.Text)
		s.Title = parser.PartialRatio(title, text)
		s.Combined = parser.PartialRatio(query, text)
		if s.Title >= TitleBonusThreshold {
			s.Combined += TitleBonus
		}
		if i == 0 {
			s.Combined += FirstResultBonus
		}
		scores = append(scores, s)
	}
	return scores
}

// Best returns the highest scoring acceptable candidate. A later candidate
// replaces the current best only with a strictly higher score.
func Best(title, author string, candidates []models.SearchCandidate) (Match, bool) {
	var (
		best  Match
		found bool
	)
	for _, s := range ScoreAll(title, author, candidates) {
		if s.Denied || s.Combined < AcceptThreshold {
			continue
		}
		if s.Combined > best.Score {
			best = Match{Candidate: s.Candidate, Index: s.Index, Score: s.Combined}
			found = true
		}
	}
	return best, found
}
