package extract

import (
	"bytes"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

// Feed extracts headlines from RSS, Atom or JSON feeds.
type Feed struct {
	parser *gofeed.Parser
}

// NewFeed returns a feed extractor.
func NewFeed() *Feed {
	return &Feed{parser: gofeed.NewParser()}
}

// Extract maps feed items to headlines in feed order.
func (f *Feed) Extract(body []byte) ([]watch.Headline, error) {
	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	headlines := make([]watch.Headline, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link := item.Link
		if link == "" {
			link = PlaceholderHref
		}
		headlines = append(headlines, watch.Headline{
			Text: visibleText(item.Title),
			URL:  link,
		})
	}
	return headlines, nil
}

// ForFormat picks the extractor for a source format ("html" or "rss").
func ForFormat(format string) (watch.Extractor, error) {
	switch format {
	case "", "html":
		return NewHTML(), nil
	case "rss", "atom", "feed":
		return NewFeed(), nil
	default:
		return nil, fmt.Errorf("unknown source format %q", format)
	}
}
