// Package classify decides whether headlines mention the trigger event and
// ranks them by a keyword-driven doom score.
package classify

import (
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

// ErrNoTriggers is returned when a classifier has nothing to match against.
var ErrNoTriggers = errors.New("no trigger phrases configured")

// Defaults mirror the phrases the watcher shipped with.
var (
	DefaultTriggers = []string{
		"markets in turmoil",
		"market in turmoil",
		"turmoil in market",
		"turmoil in markets",
	}
	DefaultDoomKeywords = []string{
		"turmoil", "plunge", "crash", "chaos", "tumble", "sell-off", "selloff",
		"bloodbath", "panic", "recession", "meltdown", "plummet", "slump",
		"fears", "collapse",
	}
	// Substring matches: keep markers longer than words they could hide in.
	DefaultRecencyMarkers = []string{
		"live updates", "live:", "breaking", "today", "just in", "right now",
	}
)

const (
	defaultMaxWords = 6
	defaultTopN     = 5
)

// Config controls trigger phrases and the scoring vocabulary.
type Config struct {
	Triggers       []string
	DoomKeywords   []string
	RecencyMarkers []string
	MaxWords       int
	TopN           int
	MinScore       int
}

// Classifier tests headlines for trigger phrases and scores them.
type Classifier struct {
	triggers []string
	doom     []string
	recency  []string
	maxWords int
	topN     int
	minScore int
}

// Breakdown shows how each rule contributed to a score.
type Breakdown struct {
	Keywords []string `json:"keywords"`
	Recency  bool     `json:"recency"`
	Brief    bool     `json:"brief"`
	AllCaps  bool     `json:"all_caps"`
	Total    int      `json:"total"`
}

// Result is the classification of a whole document.
type Result struct {
	Found     bool
	Canonical watch.Headline
	Ranked    []watch.Headline
}

// New builds a Classifier, filling zero values with defaults.
func New(cfg Config) *Classifier {
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = defaultMaxWords
	}
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 1
	}
	return &Classifier{
		triggers: normalize(cfg.Triggers),
		doom:     normalize(cfg.DoomKeywords),
		recency:  normalize(cfg.RecencyMarkers),
		maxWords: cfg.MaxWords,
		topN:     cfg.TopN,
		minScore: cfg.MinScore,
	}
}

// IsTrigger reports whether text contains any trigger phrase, ignoring case.
func (c *Classifier) IsTrigger(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range c.triggers {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Score returns the doom score of text.
func (c *Classifier) Score(text string) int {
	return c.Explain(text).Total
}

// Explain scores text and reports which rules fired.
func (c *Classifier) Explain(text string) Breakdown {
	var b Breakdown
	lower := strings.ToLower(text)
	seen := make(map[string]struct{}, len(c.doom))
	for _, kw := range c.doom {
		if _, dup := seen[kw]; dup {
			continue
		}
		if strings.Contains(lower, kw) {
			seen[kw] = struct{}{}
			b.Keywords = append(b.Keywords, kw)
		}
	}
	for _, marker := range c.recency {
		if strings.Contains(lower, marker) {
			b.Recency = true
			break
		}
	}
	words := len(strings.Fields(text))
	b.Brief = words > 0 && words <= c.maxWords
	b.AllCaps = isAllCaps(text)

	b.Total = len(b.Keywords)
	if b.Recency {
		b.Total++
	}
	if b.Brief {
		b.Total++
	}
	if b.AllCaps {
		b.Total++
	}
	return b
}

// Classify scores every headline, picks the first trigger match in document
// order, and returns the top-ranked headlines.
func (c *Classifier) Classify(headlines []watch.Headline) (Result, error) {
	if len(c.triggers) == 0 {
		return Result{}, ErrNoTriggers
	}
	var res Result
	scored := make([]watch.Headline, 0, len(headlines))
	for _, h := range headlines {
		if !res.Found && c.IsTrigger(h.Text) {
			res.Found = true
			res.Canonical = h
		}
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		h.Score = c.Score(h.Text)
		if h.Score < c.minScore {
			continue
		}
		scored = append(scored, h)
	}
	if res.Found {
		res.Canonical.Score = c.Score(res.Canonical.Text)
	}
	res.Ranked = Rank(scored, c.topN)
	return res, nil
}

// Rank stable-sorts headlines by descending score and keeps at most n.
func Rank(headlines []watch.Headline, n int) []watch.Headline {
	out := append([]watch.Headline(nil), headlines...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func isAllCaps(text string) bool {
	hasLetter := false
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		if unicode.IsLower(r) {
			return false
		}
		hasLetter = true
	}
	return hasLetter
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
