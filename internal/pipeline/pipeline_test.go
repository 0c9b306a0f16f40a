package pipeline

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/turmoilwatch/internal/classify"
	"github.com/JakeFAU/turmoilwatch/internal/clock/system"
	"github.com/JakeFAU/turmoilwatch/internal/extract"
	"github.com/JakeFAU/turmoilwatch/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/turmoilwatch/internal/publisher/memory"
	"github.com/JakeFAU/turmoilwatch/internal/record"
	"github.com/JakeFAU/turmoilwatch/internal/storage/memory"
	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

const (
	turmoilPage = `<html><body>
<a href="/weather">Sunny weekend ahead</a>
<a href="/x">Markets in turmoil as stocks plunge</a>
<a href="/later">Turmoil in markets continues</a>
</body></html>`
	emptyPage = `<html><body></body></html>`
)

var fixedNow = time.Date(2024, time.August, 5, 13, 30, 0, 0, time.UTC)

type harness struct {
	runner    *Runner
	fetcher   *fakeFetcher
	headless  *fakeFetcher
	detector  *fakeDetector
	records   *record.FileStore
	site      *memory.BlobStore
	mirror    *memory.BlobStore
	publisher *pubmemory.Publisher
}

func newHarness(t *testing.T, body string, mutate func(*Deps)) *harness {
	t.Helper()

	records, err := record.NewFileStore(filepath.Join(t.TempDir(), "data.json"))
	require.NoError(t, err)
	h := &harness{
		fetcher:   &fakeFetcher{resp: okResponse(body)},
		headless:  &fakeFetcher{err: errors.New("no browser")},
		detector:  &fakeDetector{},
		records:   records,
		site:      memory.NewBlobStore(),
		mirror:    memory.NewBlobStore(),
		publisher: pubmemory.New(),
	}
	deps := Deps{
		Fetcher:    h.fetcher,
		Headless:   h.headless,
		Detector:   h.detector,
		Extractor:  extract.NewHTML(),
		Classifier: classify.New(classify.Config{Triggers: classify.DefaultTriggers, DoomKeywords: classify.DefaultDoomKeywords, RecencyMarkers: classify.DefaultRecencyMarkers}),
		Records:    records,
		Site:       h.site,
		Mirrors:    []watch.BlobStore{h.mirror},
		Publisher:  h.publisher,
		Hasher:     sha256.New(),
		Clock:      system.NewManual(fixedNow),
		IDs:        &fakeIDs{},
	}
	if mutate != nil {
		mutate(&deps)
	}
	runner, err := New(deps, Config{
		SourceURL:  "https://www.cnbc.com",
		Title:      "Are Markets in Turmoil?",
		SourceName: "CNBC",
		Fallback:   watch.MatchRecord{Timestamp: "February 24, 2020", URL: "https://www.cnbc.com/2020/02/24/stock-market-today-live.html"},
		Topic:      "matches",
	}, zap.NewNop())
	require.NoError(t, err)
	h.runner = runner
	return h
}

func (h *harness) page(t *testing.T) string {
	t.Helper()
	data, err := h.site.GetObject(context.Background(), "index.html")
	require.NoError(t, err)
	return string(data)
}

func TestRunCycleTriggerFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, turmoilPage, nil)
	ctx := context.Background()

	result := h.runner.RunCycle(ctx)
	require.Equal(t, watch.OutcomeOK, result.Outcome)
	require.NoError(t, result.Err)
	require.True(t, result.Found)
	require.Equal(t, watch.MatchRecord{Timestamp: "2024-08-05T13:30:00Z", URL: "/x"}, result.Match)
	require.True(t, result.Notified)
	require.Equal(t, "cycle-1", result.ID)
	require.Equal(t, 3, result.Meta.Anchors)
	require.Len(t, result.Meta.Digest, 64)

	require.NotEmpty(t, result.Ranked)
	require.Equal(t, "Markets in turmoil as stocks plunge", result.Ranked[0].Text)
	require.Equal(t, 3, result.Ranked[0].Score)

	saved, ok, err := h.records.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, result.Match, saved)

	page := h.page(t)
	require.Contains(t, page, "YEAH")
	require.Contains(t, page, `href="/x"`)
	require.Equal(t, "text/html; charset=utf-8", h.site.ContentType("index.html"))

	mirrored, err := h.mirror.GetObject(ctx, "data.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"timestamp":"2024-08-05T13:30:00Z","url":"/x"}`, string(mirrored))

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "matches", msgs[0].Topic)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "/x", payload["url"])
	require.Equal(t, "Markets in turmoil as stocks plunge", payload["headline"])

	// An unchanged match is not announced twice.
	second := h.runner.RunCycle(ctx)
	require.Equal(t, watch.OutcomeOK, second.Outcome)
	require.False(t, second.Notified)
	require.Len(t, h.publisher.Messages(), 1)
}

func TestRunCycleEmptyDocumentRendersFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, emptyPage, nil)
	ctx := context.Background()

	result := h.runner.RunCycle(ctx)
	require.Equal(t, watch.OutcomeOK, result.Outcome)
	require.False(t, result.Found)
	require.Empty(t, result.Ranked)
	require.True(t, result.Match.IsZero())
	require.False(t, result.Notified)

	page := h.page(t)
	require.Contains(t, page, "February 24, 2020")
	require.Contains(t, page, "stock-market-today-live.html")
	require.NotContains(t, page, "Related Panic Headlines")

	_, ok, err := h.records.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok, "no match leaves the record untouched")

	_, err = h.mirror.GetObject(ctx, "data.json")
	require.Error(t, err)
	require.Empty(t, h.publisher.Messages())
}

func TestRunCycleKeepsRecordWhenTriggerDisappears(t *testing.T) {
	t.Parallel()

	h := newHarness(t, turmoilPage, nil)
	ctx := context.Background()
	first := h.runner.RunCycle(ctx)
	require.True(t, first.Found)

	h.fetcher.set(okResponse(emptyPage), nil)
	second := h.runner.RunCycle(ctx)
	require.Equal(t, watch.OutcomeOK, second.Outcome)
	require.False(t, second.Found)

	saved, ok, err := h.records.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.Match, saved)
	require.Contains(t, h.page(t), "February 24, 2020")
}

func TestRunCyclePageWriteFailureRestoresRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, turmoilPage, nil)
	ctx := context.Background()
	earlier := watch.MatchRecord{Timestamp: "2024-08-01T09:00:00Z", URL: "/earlier"}
	require.NoError(t, h.records.Save(ctx, earlier))

	h.site.FailWith(errors.New("disk full"))
	result := h.runner.RunCycle(ctx)
	require.Equal(t, watch.OutcomeWriteFailed, result.Outcome)

	saved, ok, err := h.records.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, earlier, saved)
	require.Empty(t, h.publisher.Messages())
}

func TestRunCycleFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		fetch   error
		mutate  func(*Deps)
		setup   func(*harness)
		outcome watch.Outcome
		stage   watch.Stage
	}{
		{
			name:    "fetch error",
			fetch:   errors.New("dial tcp: i/o timeout"),
			outcome: watch.OutcomeFetchFailed,
			stage:   watch.StageFetch,
		},
		{
			name:    "parse error",
			body:    turmoilPage,
			mutate:  func(d *Deps) { d.Extractor = &fakeExtractor{err: errors.New("garbled")} },
			outcome: watch.OutcomeParseFailed,
			stage:   watch.StageParse,
		},
		{
			name:    "classifier without triggers",
			body:    turmoilPage,
			mutate:  func(d *Deps) { d.Classifier = classify.New(classify.Config{}) },
			outcome: watch.OutcomeClassifyFailed,
			stage:   watch.StageClassify,
		},
		{
			name:    "page write error",
			body:    emptyPage,
			setup:   func(h *harness) { h.site.FailWith(errors.New("disk full")) },
			outcome: watch.OutcomeWriteFailed,
			stage:   watch.StageWrite,
		},
		{
			name:    "page write error after match",
			body:    turmoilPage,
			setup:   func(h *harness) { h.site.FailWith(errors.New("disk full")) },
			outcome: watch.OutcomeWriteFailed,
			stage:   watch.StageWrite,
		},
		{
			name:    "record write error",
			body:    turmoilPage,
			mutate:  func(d *Deps) { d.Records = &fakeRecords{saveErr: errors.New("read-only")} },
			outcome: watch.OutcomeWriteFailed,
			stage:   watch.StageWrite,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tc.body, tc.mutate)
			if tc.fetch != nil {
				h.fetcher.set(watch.FetchResponse{}, tc.fetch)
			}
			if tc.setup != nil {
				tc.setup(h)
			}

			result := h.runner.RunCycle(context.Background())
			require.Equal(t, tc.outcome, result.Outcome)
			require.True(t, result.Failed())
			require.NotEmpty(t, result.ErrorText)
			stage, ok := watch.StageOf(result.Err)
			require.True(t, ok)
			require.Equal(t, tc.stage, stage)

			require.Zero(t, h.site.Puts(), "failed cycles leave the page alone")
			_, found, err := h.records.Load(context.Background())
			require.NoError(t, err)
			require.False(t, found, "failed cycles leave no record behind")
			require.Zero(t, h.mirror.Puts())
			require.Empty(t, h.publisher.Messages())
		})
	}
}

func TestRunCycleSideEffectFailuresDoNotFailCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, turmoilPage, nil)
	h.mirror.FailWith(errors.New("bucket gone"))
	h.publisher.FailWith(errors.New("topic gone"))

	result := h.runner.RunCycle(context.Background())
	require.Equal(t, watch.OutcomeOK, result.Outcome)
	require.True(t, result.Found)
	require.False(t, result.Notified)
	require.Contains(t, h.page(t), "YEAH")
}

func TestRunCycleHeadlessPromotion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, emptyPage, nil)
	h.detector.promote = true
	h.headless.set(watch.FetchResponse{URL: "https://www.cnbc.com/", StatusCode: http.StatusOK, Body: []byte(turmoilPage)}, nil)

	result := h.runner.RunCycle(context.Background())
	require.Equal(t, watch.OutcomeOK, result.Outcome)
	require.True(t, result.Meta.UsedHeadless)
	require.True(t, result.Found)
	require.True(t, h.headless.lastRequest().UseHeadless)
	require.Contains(t, h.page(t), "rendered headless")
}

func TestRunCycleHeadlessFailureFallsBackToProbe(t *testing.T) {
	t.Parallel()

	h := newHarness(t, turmoilPage, nil)
	h.detector.promote = true

	result := h.runner.RunCycle(context.Background())
	require.Equal(t, watch.OutcomeOK, result.Outcome)
	require.False(t, result.Meta.UsedHeadless)
	require.True(t, result.Found)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{SourceURL: "https://www.cnbc.com"}, nil)
	require.Error(t, err)

	h := newHarness(t, emptyPage, nil)
	deps := h.runner.deps
	_, err = New(deps, Config{}, nil)
	require.ErrorContains(t, err, "source url")

	runner, err := New(deps, Config{SourceURL: "https://www.cnbc.com"}, nil)
	require.NoError(t, err)
	require.Equal(t, "index.html", runner.cfg.IndexObject)
	require.Equal(t, "data.json", runner.cfg.RecordObject)
}

func okResponse(body string) watch.FetchResponse {
	return watch.FetchResponse{
		URL:        "https://www.cnbc.com/",
		StatusCode: http.StatusOK,
		Body:       []byte(body),
		Duration:   25 * time.Millisecond,
	}
}

type fakeFetcher struct {
	mu   sync.Mutex
	resp watch.FetchResponse
	err  error
	last watch.FetchRequest
}

func (f *fakeFetcher) set(resp watch.FetchResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resp, f.err = resp, err
}

func (f *fakeFetcher) lastRequest() watch.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeFetcher) Fetch(_ context.Context, req watch.FetchRequest) (watch.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.err != nil {
		return watch.FetchResponse{}, f.err
	}
	return f.resp, nil
}

type fakeDetector struct {
	promote bool
}

func (d *fakeDetector) ShouldPromote(watch.FetchResponse) bool {
	return d.promote
}

type fakeExtractor struct {
	err error
}

func (e *fakeExtractor) Extract([]byte) ([]watch.Headline, error) {
	return nil, e.err
}

type fakeRecords struct {
	saveErr error
}

func (r *fakeRecords) Load(context.Context) (watch.MatchRecord, bool, error) {
	return watch.MatchRecord{}, false, nil
}

func (r *fakeRecords) Save(context.Context, watch.MatchRecord) error {
	return r.saveErr
}

func (r *fakeRecords) Delete(context.Context) error {
	return nil
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "cycle-" + strconv.Itoa(g.n), nil
}
