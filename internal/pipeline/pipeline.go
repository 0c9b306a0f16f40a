// Package pipeline runs one scrape-score-render cycle against the news source.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/turmoilwatch/internal/classify"
	"github.com/JakeFAU/turmoilwatch/internal/hash/sha256"
	"github.com/JakeFAU/turmoilwatch/internal/metrics"
	"github.com/JakeFAU/turmoilwatch/internal/record"
	"github.com/JakeFAU/turmoilwatch/internal/render"
	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

const recordContentType = "application/json"

// Config controls Runner behavior.
type Config struct {
	SourceURL     string
	RespectRobots bool
	// IndexObject is the object name of the rendered page in the site stores.
	IndexObject string
	// RecordObject is the object name the match record is mirrored under.
	RecordObject string
	Title        string
	SourceName   string
	Fallback     watch.MatchRecord
	Topic        string
}

// Deps bundles the collaborators a Runner drives. Headless, Detector,
// Mirrors and Publisher are optional.
type Deps struct {
	Fetcher    watch.Fetcher
	Headless   watch.Fetcher
	Detector   watch.HeadlessDetector
	Extractor  watch.Extractor
	Classifier *classify.Classifier
	Records    watch.RecordStore
	Site       watch.BlobStore
	Mirrors    []watch.BlobStore
	Publisher  watch.Publisher
	Hasher     watch.Hasher
	Clock      watch.Clock
	IDs        watch.IDGenerator
}

// Runner executes cycles. It is not safe for concurrent RunCycle calls;
// the scheduler guarantees a single cycle at a time.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Classifier == nil:
		return nil, errors.New("classifier is required")
	case deps.Records == nil:
		return nil, errors.New("record store is required")
	case deps.Site == nil:
		return nil, errors.New("site store is required")
	case deps.Hasher == nil || deps.Clock == nil || deps.IDs == nil:
		return nil, errors.New("hasher, clock and id generator are required")
	case cfg.SourceURL == "":
		return nil, errors.New("source url is required")
	}
	if cfg.IndexObject == "" {
		cfg.IndexObject = "index.html"
	}
	if cfg.RecordObject == "" {
		cfg.RecordObject = "data.json"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Runner{deps: deps, cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// RunCycle fetches, extracts, classifies and renders, then writes the record
// and page. A failure before the writes leaves the previous page in place.
func (r *Runner) RunCycle(ctx context.Context) watch.CycleResult {
	result := watch.CycleResult{ID: r.newID(), StartedAt: r.deps.Clock.Now()}
	log := r.logger.With(zap.String("cycle_id", result.ID), zap.String("url", r.cfg.SourceURL))
	log.Debug("cycle started")

	err := r.run(ctx, log, &result)
	result.FinishedAt = r.deps.Clock.Now()
	duration := result.FinishedAt.Sub(result.StartedAt)

	if err != nil {
		var cycleErr *watch.CycleError
		if errors.As(err, &cycleErr) {
			result.Outcome = cycleErr.Outcome()
		} else {
			result.Outcome = watch.OutcomeWriteFailed
		}
		result.Err = err
		result.ErrorText = err.Error()
		log.Error("cycle failed",
			zap.String("outcome", string(result.Outcome)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		metrics.ObserveCycle(string(result.Outcome), duration)
		return result
	}

	result.Outcome = watch.OutcomeOK
	top := 0
	if len(result.Ranked) > 0 {
		top = result.Ranked[0].Score
	}
	metrics.SetVerdict(result.Found, top, result.FinishedAt)
	metrics.ObserveCycle(string(result.Outcome), duration)
	log.Info("cycle finished",
		zap.String("outcome", string(result.Outcome)),
		zap.Bool("found", result.Found),
		zap.Int("ranked", len(result.Ranked)),
		zap.Int("top_score", top),
		zap.Duration("duration", duration),
	)
	return result
}

func (r *Runner) run(ctx context.Context, log *zap.Logger, result *watch.CycleResult) error {
	resp, err := r.fetch(ctx, log, result.ID)
	if err != nil {
		return watch.NewCycleError(watch.StageFetch, err)
	}
	metrics.ObserveFetch(r.cfg.SourceURL, len(resp.Body))

	digest, err := r.deps.Hasher.Hash(resp.Body)
	if err != nil {
		return watch.NewCycleError(watch.StageParse, fmt.Errorf("hash body: %w", err))
	}

	headlines, err := r.deps.Extractor.Extract(resp.Body)
	if err != nil {
		return watch.NewCycleError(watch.StageParse, err)
	}
	metrics.SetHeadlinesExtracted(len(headlines))

	result.Meta = watch.ScrapeMeta{
		CycleID:      result.ID,
		FetchedAt:    result.StartedAt,
		SourceURL:    r.cfg.SourceURL,
		FinalURL:     resp.URL,
		StatusCode:   resp.StatusCode,
		Bytes:        len(resp.Body),
		Digest:       digest,
		Anchors:      len(headlines),
		UsedHeadless: resp.UsedHeadless,
		Duration:     resp.Duration,
	}
	log.Debug("page extracted",
		zap.Int("anchors", len(headlines)),
		zap.String("digest", sha256.Short(digest)),
		zap.Bool("headless", resp.UsedHeadless),
	)

	verdict, err := r.deps.Classifier.Classify(headlines)
	if err != nil {
		return watch.NewCycleError(watch.StageClassify, err)
	}
	result.Found = verdict.Found
	result.Ranked = verdict.Ranked
	if verdict.Found {
		result.Match = watch.MatchRecord{
			Timestamp: result.StartedAt.UTC().Format(time.RFC3339),
			URL:       verdict.Canonical.URL,
		}
	}

	page := render.NewPage(r.cfg.Title, r.cfg.SourceName, result.Found, result.Match, r.cfg.Fallback,
		result.Ranked, result.Meta)
	html, err := render.Render(page)
	if err != nil {
		return watch.NewCycleError(watch.StageWrite, err)
	}

	previous, hadPrevious := r.previousMatch(ctx, log)
	if err := r.write(ctx, log, result, html, previous, hadPrevious); err != nil {
		return watch.NewCycleError(watch.StageWrite, err)
	}
	r.mirror(ctx, log, result, html)

	if result.Found && result.Match.URL != previous.URL {
		result.Notified = r.notify(ctx, log, result, verdict.Canonical)
	}
	return nil
}

func (r *Runner) fetch(ctx context.Context, log *zap.Logger, cycleID string) (watch.FetchResponse, error) {
	req := watch.FetchRequest{
		CycleID:       cycleID,
		URL:           r.cfg.SourceURL,
		RespectRobots: r.cfg.RespectRobots,
	}
	resp, err := r.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return watch.FetchResponse{}, fmt.Errorf("fetch %s: %w", r.cfg.SourceURL, err)
	}
	if promoted, ok := r.maybePromote(ctx, log, req, resp); ok {
		return promoted, nil
	}
	return resp, nil
}

func (r *Runner) maybePromote(
	ctx context.Context,
	log *zap.Logger,
	req watch.FetchRequest,
	probe watch.FetchResponse,
) (watch.FetchResponse, bool) {
	if r.deps.Headless == nil || r.deps.Detector == nil || !r.deps.Detector.ShouldPromote(probe) {
		return probe, false
	}
	req.UseHeadless = true
	resp, err := r.deps.Headless.Fetch(ctx, req)
	if err != nil {
		metrics.ObserveHeadlessPromotion("failed")
		log.Warn("headless promotion failed, using probe response", zap.Error(err))
		return probe, false
	}
	metrics.ObserveHeadlessPromotion("used")
	log.Info("headless promotion applied", zap.Int("bytes", len(resp.Body)))
	resp.UsedHeadless = true
	return resp, true
}

func (r *Runner) previousMatch(ctx context.Context, log *zap.Logger) (watch.MatchRecord, bool) {
	prev, ok, err := r.deps.Records.Load(ctx)
	if err != nil {
		log.Warn("load previous match failed", zap.Error(err))
		return watch.MatchRecord{}, false
	}
	return prev, ok
}

// write saves the record and then the page. If the page cannot be written the
// record is put back the way it was, so the two never disagree.
func (r *Runner) write(
	ctx context.Context,
	log *zap.Logger,
	result *watch.CycleResult,
	html []byte,
	previous watch.MatchRecord,
	hadPrevious bool,
) error {
	if result.Found {
		if err := r.deps.Records.Save(ctx, result.Match); err != nil {
			return fmt.Errorf("save match record: %w", err)
		}
	}
	if _, err := r.deps.Site.PutObject(ctx, r.cfg.IndexObject, render.ContentType, bytes.NewReader(html)); err != nil {
		if result.Found {
			r.restoreRecord(ctx, log, previous, hadPrevious)
		}
		return fmt.Errorf("write page: %w", err)
	}
	return nil
}

func (r *Runner) restoreRecord(ctx context.Context, log *zap.Logger, previous watch.MatchRecord, hadPrevious bool) {
	var err error
	if hadPrevious {
		err = r.deps.Records.Save(ctx, previous)
	} else {
		err = r.deps.Records.Delete(ctx)
	}
	if err != nil {
		log.Error("restore match record failed", zap.Error(err))
	}
}

func (r *Runner) mirror(ctx context.Context, log *zap.Logger, result *watch.CycleResult, html []byte) {
	if len(r.deps.Mirrors) == 0 {
		return
	}
	var recordJSON []byte
	if result.Found {
		data, err := record.Encode(result.Match)
		if err != nil {
			log.Warn("encode match record for mirror failed", zap.Error(err))
		}
		recordJSON = data
	}
	for _, store := range r.deps.Mirrors {
		uri, err := store.PutObject(ctx, r.cfg.IndexObject, render.ContentType, bytes.NewReader(html))
		if err != nil {
			log.Warn("mirror page failed", zap.Error(err))
			continue
		}
		log.Debug("page mirrored", zap.String("uri", uri))
		if recordJSON == nil {
			continue
		}
		if _, err := store.PutObject(ctx, r.cfg.RecordObject, recordContentType, bytes.NewReader(recordJSON)); err != nil {
			log.Warn("mirror match record failed", zap.Error(err))
		}
	}
}

func (r *Runner) notify(ctx context.Context, log *zap.Logger, result *watch.CycleResult, canonical watch.Headline) bool {
	if r.deps.Publisher == nil || r.cfg.Topic == "" {
		return false
	}
	payload := map[string]any{
		"timestamp": result.Match.Timestamp,
		"url":       result.Match.URL,
		"headline":  canonical.Text,
		"score":     canonical.Score,
		"source":    r.cfg.SourceName,
		"cycle_id":  result.ID,
	}
	id, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, payload)
	if err != nil {
		metrics.ObserveNotification("failed")
		log.Warn("match announcement failed", zap.String("topic", r.cfg.Topic), zap.Error(err))
		return false
	}
	metrics.ObserveNotification("published")
	log.Info("match announced",
		zap.String("topic", r.cfg.Topic),
		zap.String("message_id", id),
		zap.String("match_url", result.Match.URL),
	)
	return true
}

func (r *Runner) newID() string {
	id, err := r.deps.IDs.NewID()
	if err != nil {
		r.logger.Warn("generate cycle id failed", zap.Error(err))
		return fmt.Sprintf("cycle-%d", r.deps.Clock.Now().UnixNano())
	}
	return id
}
