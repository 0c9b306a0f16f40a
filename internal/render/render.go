// Package render produces the static status page.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

//go:embed templates/index.html.tmpl
var templateFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))

// ContentType is the media type of rendered pages.
const ContentType = "text/html; charset=utf-8"

// Page carries everything the status page shows. Found selects the
// "it happened" branch; otherwise Timestamp and URL describe the fallback.
type Page struct {
	Title        string
	SourceName   string
	Found        bool
	Timestamp    string
	URL          string
	Related      []watch.Headline
	CheckedAt    time.Time
	UsedHeadless bool
}

// NewPage assembles a Page from a cycle's classification. When found is false
// the fallback record is shown instead of match.
func NewPage(title, source string, found bool, match, fallback watch.MatchRecord,
	related []watch.Headline, meta watch.ScrapeMeta,
) Page {
	shown := fallback
	if found {
		shown = match
	}
	return Page{
		Title:        title,
		SourceName:   source,
		Found:        found,
		Timestamp:    shown.Timestamp,
		URL:          shown.URL,
		Related:      related,
		CheckedAt:    meta.FetchedAt,
		UsedHeadless: meta.UsedHeadless,
	}
}

// Render executes the page template. Output depends only on p.
func Render(p Page) ([]byte, error) {
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}
