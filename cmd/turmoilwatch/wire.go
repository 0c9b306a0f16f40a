package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/turmoilwatch/internal/classify"
	"github.com/JakeFAU/turmoilwatch/internal/clock/system"
	"github.com/JakeFAU/turmoilwatch/internal/config"
	"github.com/JakeFAU/turmoilwatch/internal/extract"
	collyfetcher "github.com/JakeFAU/turmoilwatch/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/turmoilwatch/internal/fetcher/headless"
	"github.com/JakeFAU/turmoilwatch/internal/hash/sha256"
	"github.com/JakeFAU/turmoilwatch/internal/headless/detector"
	"github.com/JakeFAU/turmoilwatch/internal/id/uuid"
	"github.com/JakeFAU/turmoilwatch/internal/pipeline"
	memorypublisher "github.com/JakeFAU/turmoilwatch/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/turmoilwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/turmoilwatch/internal/record"
	"github.com/JakeFAU/turmoilwatch/internal/storage/gcs"
	"github.com/JakeFAU/turmoilwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/turmoilwatch/internal/storage/memory"
	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

// runtime owns the long-lived collaborators built from config.
type runtime struct {
	runner  *pipeline.Runner
	site    *local.BlobStore
	records *record.FileStore
	closers []func() error
}

// Close releases clients in reverse construction order.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type wireOptions struct {
	// dryRun renders into memory and never writes, mirrors or announces.
	dryRun bool
}

func buildRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger, opts wireOptions) (*runtime, error) {
	rt := &runtime{}

	extractor, err := extract.ForFormat(cfg.Source.Format)
	if err != nil {
		return nil, err
	}
	records, err := record.NewFileStore(cfg.Record.Path)
	if err != nil {
		return nil, fmt.Errorf("open match record: %w", err)
	}
	rt.records = records
	site, err := local.New(local.Config{BaseDir: cfg.Site.Dir})
	if err != nil {
		return nil, fmt.Errorf("open site dir: %w", err)
	}
	rt.site = site

	deps := pipeline.Deps{
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Source.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}),
		Headless:   headlessfetcher.NewNoop(),
		Extractor:  extractor,
		Classifier: classify.New(cfg.ClassifierConfig()),
		Records:    records,
		Site:       site,
		Hasher:     sha256.New(),
		Clock:      system.New(),
		IDs:        uuid.New(),
	}

	if cfg.Headless.Enabled {
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			UserAgent:         cfg.Source.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			ExecPath:          cfg.Headless.ExecPath,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, promotion disabled", zap.Error(err))
		} else {
			deps.Headless = browser
			deps.Detector = detector.NewHeuristic(0, cfg.Headless.MinAnchors)
			rt.closers = append(rt.closers, func() error {
				browser.Close()
				return nil
			})
		}
	}

	if opts.dryRun {
		deps.Site = memorystorage.NewBlobStore()
		deps.Records = readOnlyRecords{RecordStore: records}
		deps.Publisher = memorypublisher.New()
	} else {
		if err := wireRemotes(ctx, cfg, logger, rt, &deps); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	runner, err := pipeline.New(deps, pipeline.Config{
		SourceURL:     cfg.Source.URL,
		RespectRobots: cfg.Source.RespectRobots,
		IndexObject:   cfg.Site.IndexFile,
		RecordObject:  filepath.Base(cfg.Record.Path),
		Title:         cfg.Site.Title,
		SourceName:    cfg.Site.SourceName,
		Fallback:      cfg.FallbackRecord(),
		Topic:         cfg.PubSub.TopicName,
	}, logger)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	rt.runner = runner
	return rt, nil
}

func wireRemotes(ctx context.Context, cfg config.Config, logger *zap.Logger, rt *runtime, deps *pipeline.Deps) error {
	if cfg.MirrorEnabled() {
		mirror, err := gcs.Dial(ctx, gcs.Config{
			Bucket:          cfg.Storage.GCSBucket,
			Prefix:          cfg.Storage.Prefix,
			CredentialsFile: cfg.Storage.CredentialsFile,
			CacheControl:    cfg.Storage.CacheControl,
		})
		if err != nil {
			return fmt.Errorf("dial GCS mirror: %w", err)
		}
		deps.Mirrors = append(deps.Mirrors, mirror)
		rt.closers = append(rt.closers, mirror.Close)
		logger.Info("GCS mirror enabled",
			zap.String("bucket", cfg.Storage.GCSBucket),
			zap.String("prefix", cfg.Storage.Prefix),
		)
	}
	if cfg.NotifyEnabled() {
		pub, err := pubsubpublisher.Dial(ctx, pubsubpublisher.Config{
			ProjectID:       cfg.PubSub.ProjectID,
			TopicName:       cfg.PubSub.TopicName,
			CredentialsFile: cfg.Storage.CredentialsFile,
		})
		if err != nil {
			return fmt.Errorf("dial pubsub: %w", err)
		}
		deps.Publisher = pub
		rt.closers = append(rt.closers, pub.Close)
		logger.Info("match announcements enabled", zap.String("topic", cfg.PubSub.TopicName))
	}
	return nil
}

// readOnlyRecords serves the persisted record but drops writes.
type readOnlyRecords struct {
	watch.RecordStore
}

func (readOnlyRecords) Save(context.Context, watch.MatchRecord) error {
	return nil
}

func (readOnlyRecords) Delete(context.Context) error {
	return nil
}
