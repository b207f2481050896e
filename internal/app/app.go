// Package app builds the long-lived services of a download run from configuration
// and owns their shutdown.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/api"
	"github.com/JakeFAU/submission-downloader/internal/clock/system"
	"github.com/JakeFAU/submission-downloader/internal/config"
	"github.com/JakeFAU/submission-downloader/internal/dedup"
	"github.com/JakeFAU/submission-downloader/internal/dispatcher"
	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/extractor"
	collyfetcher "github.com/JakeFAU/submission-downloader/internal/fetcher/colly"
	"github.com/JakeFAU/submission-downloader/internal/fetcher/headless"
	"github.com/JakeFAU/submission-downloader/internal/filter"
	"github.com/JakeFAU/submission-downloader/internal/fsutil"
	"github.com/JakeFAU/submission-downloader/internal/hash"
	"github.com/JakeFAU/submission-downloader/internal/hashstore"
	"github.com/JakeFAU/submission-downloader/internal/id/uuid"
	"github.com/JakeFAU/submission-downloader/internal/metrics"
	"github.com/JakeFAU/submission-downloader/internal/naming"
	"github.com/JakeFAU/submission-downloader/internal/policy/ratelimit"
	"github.com/JakeFAU/submission-downloader/internal/queue/memory"
	"github.com/JakeFAU/submission-downloader/internal/records"
	"github.com/JakeFAU/submission-downloader/internal/retry"
	"github.com/JakeFAU/submission-downloader/internal/telemetry"
	"github.com/JakeFAU/submission-downloader/internal/worker"
)

// ServiceName tags traces and logs.
const ServiceName = "submission-downloader"

const closeTimeout = 30 * time.Second

// App holds the services of one run. It acts as a dependency injection container:
// built once from Config, run once, then closed.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string
	clock  downloader.Clock

	store    *hashstore.Store
	hasher   *hash.Hasher
	registry *extractor.Registry
	sink     downloader.RecordSink
	renderer *headless.Fetcher
	tracer   *sdktrace.TracerProvider
	tally    *worker.Tally
	dispatch *dispatcher.Dispatcher

	started atomic.Bool
	closed  atomic.Bool
}

// New wires every component described by cfg. Whatever was opened before a
// failure is released again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	a = &App{cfg: cfg, logger: logger.With(zap.String("run_id", runID)), runID: runID, clock: system.New()}
	defer func() {
		if err != nil {
			if closeErr := a.Close(ctx); closeErr != nil {
				a.logger.Warn("release after failed start", zap.Error(closeErr))
			}
			a = nil
		}
	}()

	if a.tracer, err = telemetry.InitTracerProvider(ctx, ServiceName, runID); err != nil {
		return a, err
	}
	if a.hasher, err = hash.New(downloader.Algorithm(cfg.Hashes.Algorithm)); err != nil {
		return a, err
	}
	if a.store, err = openStore(ctx, cfg, a.logger.Named("hashstore")); err != nil {
		return a, err
	}
	if cfg.Download.SearchExisting {
		res, scanErr := a.store.ScanExisting(ctx, cfg.Download.Directory, a.hasher)
		if scanErr != nil {
			return a, fmt.Errorf("scan existing files: %w", scanErr)
		}
		a.logger.Info("existing files indexed",
			zap.Int("seen", res.Seen),
			zap.Int("hashed", res.Hashed),
			zap.Int("skipped", res.Skipped),
		)
	}

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Download.RatePerDomain, DefaultBurst: 1})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	}, limiter)

	opts := extractor.Options{
		Pages:    fetcher,
		Disabled: cfg.Extractors.Disabled,
		Logger:   a.logger,
	}
	if cfg.Extractors.Headless {
		if a.renderer, err = headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		}); err != nil {
			return a, fmt.Errorf("start headless renderer: %w", err)
		}
		opts.Renderer = a.renderer
		opts.HeadlessEnabled = true
	}
	if a.registry, err = extractor.NewDefault(opts); err != nil {
		return a, err
	}

	namer, err := naming.NewFormatter(cfg.Download.FileScheme, cfg.Download.FolderScheme, cfg.Download.FSProfile, naming.Sanitizer{})
	if err != nil {
		return a, err
	}
	if a.sink, err = records.Open(ctx, cfg.Records, a.logger.Named("records")); err != nil {
		return a, fmt.Errorf("open record sink: %w", err)
	}

	a.tally = worker.NewTally(runID, a.clock.Now())
	base, maxWait := cfg.RetryWaits()
	workerCfg := worker.Config{
		RunID:     runID,
		Directory: cfg.Download.Directory,
		Dedup:     downloader.DedupPolicy{NoDupes: cfg.Download.NoDupes, HardLink: cfg.Download.HardLinks},
		Retry: retry.Policy{
			BaseDelay:     base,
			MaxWait:       maxWait,
			FailFast:      cfg.Download.FailFast,
			ImmediateFail: downloader.DefaultFatalKinds(),
		},
		AbortOnFatal: cfg.Download.AbortOnFatal,
	}
	deps := worker.Deps{
		Filter:    filter.New(cfg.Filters),
		Resolver:  a.registry,
		Namer:     namer,
		Fetcher:   fetcher,
		Retry:     retry.New(retry.TimerSleeper{}, a.logger.Named("retry")),
		Hasher:    a.hasher,
		Committer: dedup.New(a.store, a.hasher, a.logger.Named("dedup")),
		Index:     a.store,
		Sink:      a.sink,
		Clock:     a.clock,
		Tally:     a.tally,
	}
	runners := make([]dispatcher.Runner, 0, cfg.Download.Concurrency)
	for i := 0; i < cfg.Download.Concurrency; i++ {
		runners = append(runners, worker.New(deps, workerCfg, a.logger.Named("worker").With(zap.Int("index", i))))
	}
	a.dispatch = dispatcher.New(memory.NewQueue(cfg.Download.QueueDepth), runners, a.store, a.logger.Named("dispatcher"))

	a.logger.Info("downloader ready",
		zap.String("directory", cfg.Download.Directory),
		zap.Int("concurrency", cfg.Download.Concurrency),
		zap.String("hash_backend", hashBackendName(cfg)),
		zap.String("record_sink", cfg.Records.Sink),
	)
	return a, nil
}

func hashBackendName(cfg config.Config) string {
	if !cfg.Hashes.Enabled {
		return "memory"
	}
	return cfg.Hashes.Backend
}

// openStore builds the configured backend, runs the one-time flat migration
// when asked, and loads the store.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*hashstore.Store, error) {
	algorithm := downloader.Algorithm(cfg.Hashes.Algorithm)
	var backend hashstore.Backend
	switch {
	case !cfg.Hashes.Enabled:
		backend = hashstore.NewMemoryBackend()
	case cfg.Hashes.Backend == config.BackendSQLite:
		b, err := hashstore.NewSQLiteBackend(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite hash store: %w", err)
		}
		backend = b
	case cfg.Hashes.Backend == config.BackendPostgres:
		b, err := hashstore.NewPostgresBackend(ctx, hashstore.PostgresConfig{
			DSN:      cfg.Hashes.PostgresDSN,
			Table:    cfg.Hashes.PostgresTable,
			MaxConns: cfg.Hashes.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres hash store: %w", err)
		}
		backend = b
	default:
		backend = hashstore.NewFlatBackend(cfg.HashDir(), algorithm)
	}

	if cfg.Hashes.Enabled && cfg.Hashes.Migrate && backend.Name() != config.BackendFlat {
		if _, err := hashstore.Migrate(ctx, hashstore.NewFlatBackend(cfg.HashDir(), algorithm), backend, logger); err != nil {
			_ = backend.Close()
			return nil, err
		}
	}

	store, err := hashstore.Open(ctx, backend, hashstore.Options{
		FlushThreshold: cfg.Hashes.FlushThreshold,
		Logger:         logger,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return store, nil
}

// RunID identifies this run in records, traces and the summary.
func (a *App) RunID() string {
	return a.runID
}

// Run downloads every submission src yields and returns the final summary.
// The summary is returned even when the run was aborted or canceled.
func (a *App) Run(ctx context.Context, src downloader.SubmissionSource) (worker.Summary, error) {
	a.started.Store(true)
	runErr := a.dispatch.Run(ctx, src)
	a.tally.Finish(a.clock.Now())
	summary := a.tally.Snapshot()

	a.logger.Info("run finished",
		zap.Int("done", summary.Done),
		zap.Int("skipped", summary.Skipped),
		zap.Int("filtered", summary.Filtered),
		zap.Int("failed", summary.Failed),
		zap.Int("abandoned", summary.Abandoned),
		zap.Int("hard_links", summary.HardLinks),
		zap.Int64("bytes_written", summary.BytesWritten),
		zap.Any("failures_by_kind", summary.FailuresByKind),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	if path := a.cfg.Download.SummaryFile; path != "" {
		if err := writeSummary(path, summary); err != nil {
			a.logger.Error("write summary failed", zap.String("path", path), zap.Error(err))
			runErr = errors.Join(runErr, err)
		}
	}
	return summary, runErr
}

func writeSummary(path string, summary worker.Summary) error {
	var buf bytes.Buffer
	if err := summary.WriteYAML(&buf); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes(), fsutil.FileModeDefault)
}

// StatusServer returns the status API bound to this run.
func (a *App) StatusServer() *api.Server {
	return api.NewServer(api.Options{
		Summary:    a.tally.Snapshot,
		Extractors: a.registry.Names,
		Ready:      a.started.Load,
	}, a.logger.Named("api"))
}

// Close saves the hash store and releases every service. It runs on a detached
// context so an interrupted run still gets its final save. Close is idempotent.
func (a *App) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	var errs []error
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close hash store: %w", err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close record sink: %w", err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	a.logger.Info("services closed")
	return nil
}
