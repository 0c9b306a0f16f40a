// Package extract turns fetched documents into ordered headline candidates.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

// PlaceholderHref is used for anchors without an href attribute.
const PlaceholderHref = "#"

// HTML extracts every anchor element from an HTML document.
type HTML struct{}

// NewHTML returns an anchor extractor.
func NewHTML() *HTML {
	return &HTML{}
}

// Extract returns one headline per <a> element in document order. Hrefs are
// passed through untouched.
func (HTML) Extract(body []byte) ([]watch.Headline, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	headlines := make([]watch.Headline, 0)
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			href = PlaceholderHref
		}
		headlines = append(headlines, watch.Headline{
			Text: visibleText(sel.Text()),
			URL:  href,
		})
	})
	return headlines, nil
}

// visibleText collapses whitespace runs so word counts are meaningful.
func visibleText(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
