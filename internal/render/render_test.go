package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

var fallback = watch.MatchRecord{
	Timestamp: "February 24, 2020",
	URL:       "https://www.cnbc.com/2020/02/24/stock-market-today-live.html",
}

func TestRenderFoundBranch(t *testing.T) {
	t.Parallel()

	match := watch.MatchRecord{Timestamp: "2026-10-18T14:00:00Z", URL: "https://example.com/turmoil"}
	related := []watch.Headline{
		{Text: "Markets In Turmoil: Dow Plunges", URL: "https://example.com/turmoil", Score: 3},
		{Text: "Stocks tumble", URL: "https://example.com/tumble", Score: 2},
	}
	meta := watch.ScrapeMeta{FetchedAt: time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)}

	out, err := Render(NewPage("Are Markets in Turmoil?", "CNBC", true, match, fallback, related, meta))
	require.NoError(t, err)
	html := string(out)

	require.Contains(t, html, "<title>Are Markets in Turmoil?</title>")
	require.Contains(t, html, "YEAH</span>, it happened. CNBC posted it on 2026-10-18T14:00:00Z.")
	require.Contains(t, html, `href="https://example.com/turmoil"`)
	require.Contains(t, html, "Related Panic Headlines")
	require.Contains(t, html, "Stocks tumble")
	require.Contains(t, html, "doom 3")
	require.Contains(t, html, "Last checked 2026-10-18 14:00 UTC")
	require.NotContains(t, html, fallback.URL)
}

func TestRenderNotFoundUsesFallback(t *testing.T) {
	t.Parallel()

	out, err := Render(NewPage("Are Markets in Turmoil?", "CNBC", false, watch.MatchRecord{}, fallback, nil, watch.ScrapeMeta{}))
	require.NoError(t, err)
	html := string(out)

	require.Contains(t, html, "<strong>No</strong>, CNBC last mentioned it on February 24, 2020.")
	require.Contains(t, html, `href="`+fallback.URL+`"`)
	require.NotContains(t, html, "YEAH")
	require.NotContains(t, html, "Related Panic Headlines")
	require.NotContains(t, html, "Last checked")
}

func TestRenderEscapesHeadlines(t *testing.T) {
	t.Parallel()

	related := []watch.Headline{{Text: `<script>alert("x")</script>`, URL: "javascript:alert(1)", Score: 1}}
	out, err := Render(NewPage("T", "S", false, watch.MatchRecord{}, fallback, related, watch.ScrapeMeta{}))
	require.NoError(t, err)
	html := string(out)

	require.NotContains(t, html, `<script>alert`)
	require.Contains(t, html, "&lt;script&gt;")
	require.NotContains(t, html, "javascript:alert")
}

func TestRenderDeterministic(t *testing.T) {
	t.Parallel()

	p := NewPage("T", "S", true, watch.MatchRecord{Timestamp: "t", URL: "/u"}, fallback,
		[]watch.Headline{{Text: "a", URL: "/a", Score: 1}}, watch.ScrapeMeta{UsedHeadless: true, FetchedAt: time.Unix(0, 0)})
	first, err := Render(p)
	require.NoError(t, err)
	second, err := Render(p)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Contains(t, string(first), "(rendered headless)")
}
