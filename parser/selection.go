package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Selectors for the catalog's review card markup.
const (
	ReviewCardSelector = "article.ReviewCard"
	ratingSelector     = `span[aria-label*="out of 5"]`
	dateSelector       = `a[href*="/review/show"]`
	contentSelector    = "div.TruncatedContent__text"
	tagsSelector       = "section.ReviewCard__tags a"
)

// SelectionUnit adapts a goquery selection of one review card to ReviewUnit.
type SelectionUnit struct {
	sel *goquery.Selection
}

// NewSelectionUnit wraps a single review card.
func NewSelectionUnit(sel *goquery.Selection) SelectionUnit {
	return SelectionUnit{sel: sel.First()}
}

// ReviewUnits returns every review card in doc, in document order.
func ReviewUnits(doc *goquery.Document) []ReviewUnit {
	var units []ReviewUnit
	doc.Find(ReviewCardSelector).Each(func(_ int, card *goquery.Selection) {
		units = append(units, NewSelectionUnit(card))
	})
	return units
}

func (u SelectionUnit) Label() (string, bool) {
	label, ok := u.sel.Attr("aria-label")
	if !ok || strings.TrimSpace(label) == "" {
		return "", false
	}
	return label, true
}

func (u SelectionUnit) RatingLabel() (string, bool) {
	return u.sel.Find(ratingSelector).First().Attr("aria-label")
}

func (u SelectionUnit) DateText() (string, bool) {
	return presentText(u.sel.Find(dateSelector).First())
}

// ContentText joins the text nodes of the content element with newlines
// so paragraph breaks survive.
func (u SelectionUnit) ContentText() (string, bool) {
	content := u.sel.Find(contentSelector).First()
	if content.Length() == 0 {
		return "", false
	}
	var parts []string
	for _, node := range content.Nodes {
		parts = appendTextNodes(parts, node)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

func appendTextNodes(parts []string, node *html.Node) []string {
	if node.Type == html.TextNode {
		if text := strings.TrimSpace(node.Data); text != "" {
			parts = append(parts, text)
		}
		return parts
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		parts = appendTextNodes(parts, child)
	}
	return parts
}

func (u SelectionUnit) LikesLabel() (string, bool) {
	return u.spanContaining("like")
}

func (u SelectionUnit) CommentsLabel() (string, bool) {
	return u.spanContaining("comment")
}

func (u SelectionUnit) ShelfTags() []string {
	var tags []string
	u.sel.Find(tagsSelector).Each(func(_ int, a *goquery.Selection) {
		tags = append(tags, a.Text())
	})
	return tags
}

// spanContaining finds the first span outside the review body whose own
// text mentions word.
func (u SelectionUnit) spanContaining(word string) (string, bool) {
	var label string
	u.sel.Find("span").Not(contentSelector+" span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		own := ownText(span)
		if strings.Contains(strings.ToLower(own), word) {
			label = own
			return false
		}
		return true
	})
	return label, label != ""
}

func ownText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, node := range sel.Nodes {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.TextNode {
				b.WriteString(child.Data)
			}
		}
	}
	return NormalizeText(b.String())
}

func presentText(sel *goquery.Selection) (string, bool) {
	if sel.Length() == 0 {
		return "", false
	}
	text := NormalizeText(sel.Text())
	return text, text != ""
}
