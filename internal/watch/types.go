package watch

import (
	"net/http"
	"time"
)

// Headline is one anchor (or feed item) seen during a cycle.
type Headline struct {
	Text  string `json:"text"`
	URL   string `json:"url"`
	Score int    `json:"score"`
}

// MatchRecord is the persisted last-known trigger event.
type MatchRecord struct {
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
}

// IsZero reports whether the record carries no match.
func (m MatchRecord) IsZero() bool {
	return m.Timestamp == "" && m.URL == ""
}

// Outcome labels how a cycle ended.
type Outcome string

// Cycle outcomes recorded in results and metrics.
const (
	OutcomeOK             Outcome = "ok"
	OutcomeFetchFailed    Outcome = "fetch_failed"
	OutcomeParseFailed    Outcome = "parse_failed"
	OutcomeClassifyFailed Outcome = "classify_failed"
	OutcomeWriteFailed    Outcome = "write_failed"
	OutcomeSkipped        Outcome = "skipped"
)

// FetchRequest captures everything needed to fetch the source page.
type FetchRequest struct {
	CycleID       string
	URL           string
	UseHeadless   bool
	Headers       http.Header
	RespectRobots bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ScrapeMeta describes the fetch that fed a cycle.
type ScrapeMeta struct {
	CycleID      string        `json:"cycle_id"`
	FetchedAt    time.Time     `json:"fetched_at"`
	SourceURL    string        `json:"source_url"`
	FinalURL     string        `json:"final_url"`
	StatusCode   int           `json:"status_code"`
	Bytes        int           `json:"bytes"`
	Digest       string        `json:"digest"`
	Anchors      int           `json:"anchors"`
	UsedHeadless bool          `json:"used_headless"`
	Duration     time.Duration `json:"duration_ns"`
}

// CycleResult summarizes one scrape-score-render pass.
type CycleResult struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Outcome    Outcome     `json:"outcome"`
	Err        error       `json:"-"`
	ErrorText  string      `json:"error,omitempty"`
	Found      bool        `json:"found"`
	Match      MatchRecord `json:"match"`
	Ranked     []Headline  `json:"ranked"`
	Meta       ScrapeMeta  `json:"meta"`
	Notified   bool        `json:"notified"`
}

// Failed reports whether the cycle was abandoned.
func (r CycleResult) Failed() bool {
	return r.Outcome != OutcomeOK && r.Outcome != OutcomeSkipped
}
