// Package worker runs the per-submission download state machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/dedup"
	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/filter"
	"github.com/JakeFAU/submission-downloader/internal/fsutil"
	"github.com/JakeFAU/submission-downloader/internal/metrics"
	"github.com/JakeFAU/submission-downloader/internal/queue/memory"
	"github.com/JakeFAU/submission-downloader/internal/retry"
)

const tracerName = "github.com/JakeFAU/submission-downloader/internal/worker"

// ErrAborted stops the run after a fatal-class failure when AbortOnFatal is set.
var ErrAborted = errors.New("run aborted on fatal error")

// Queue hands out submissions.
type Queue interface {
	Dequeue(ctx context.Context) (downloader.Submission, error)
}

// Resolver turns a submission into downloadable resources.
type Resolver interface {
	Dispatch(ctx context.Context, sub downloader.Submission) ([]downloader.Resource, error)
}

// Namer chooses destinations for a submission's resources.
type Namer interface {
	Paths(root string, sub downloader.Submission, resources []downloader.Resource) []string
}

// Committer applies the dedup policy to fetched content.
type Committer interface {
	Commit(ctx context.Context, item dedup.Item, policy downloader.DedupPolicy) (dedup.Outcome, error)
}

// URLIndex answers whether a URL was downloaded by an earlier run.
type URLIndex interface {
	LookupURL(url string) (downloader.ResourceHash, bool)
}

// Config controls Worker behavior.
type Config struct {
	RunID        string
	Directory    string
	Dedup        downloader.DedupPolicy
	Retry        retry.Policy
	AbortOnFatal bool
}

// Deps are the collaborators a Worker drives. Filter, Index and Sink are optional.
type Deps struct {
	Filter    *filter.Filter
	Resolver  Resolver
	Namer     Namer
	Fetcher   downloader.Fetcher
	Retry     *retry.Engine
	Hasher    downloader.Hasher
	Committer Committer
	Index     URLIndex
	Sink      downloader.RecordSink
	Clock     downloader.Clock
	Tally     *Tally
}

// Worker consumes submissions and drives each through its states.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Retry == nil {
		deps.Retry = retry.New(nil, logger.Named("retry"))
	}
	if deps.Tally == nil {
		deps.Tally = NewTally(cfg.RunID, deps.now())
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger, tracer: otel.Tracer(tracerName)}
}

// Tally exposes the running summary.
func (w *Worker) Tally() *Tally {
	return w.deps.Tally
}

// Run blocks, consuming submissions until the queue is drained, the context
// ends, or a fatal failure aborts the run.
func (w *Worker) Run(ctx context.Context, queue Queue) error {
	for {
		sub, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return nil
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if _, err := w.Process(ctx, sub); err != nil {
			if errors.Is(err, ErrAborted) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// Process runs one submission to a terminal state. Per-submission failures are
// recorded on the task and tally and do not produce an error; only
// cancellation and AbortOnFatal escalations do.
func (w *Worker) Process(ctx context.Context, sub downloader.Submission) (downloader.Task, error) {
	ctx, span := w.tracer.Start(ctx, "submission",
		trace.WithAttributes(
			attribute.String("submission.id", sub.ID),
			attribute.String("submission.url", sub.URL),
		),
	)
	defer span.End()
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	task := downloader.Task{Submission: sub, State: downloader.StatePending}
	logger := w.logger.With(zap.String("submission_id", sub.ID))
	bytes, err := w.run(ctx, &task, logger)

	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		task.State = downloader.StateFailed
		task.Errors = append(task.Errors, err)
		w.deps.Tally.abandoned()
		span.SetStatus(codes.Error, "abandoned")
		logger.Warn("submission abandoned", zap.Error(err))
		return task, ctxErr
	}

	var kind string
	if err != nil {
		task.State = downloader.StateFailed
		task.Errors = append(task.Errors, err)
		kind = downloader.Classify(err)
		metrics.ObserveFailure(kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		logger.Error("submission failed", zap.String("url", sub.URL), zap.String("kind", kind), zap.Error(err))
	}
	w.deps.Tally.task(task, kind, bytes)
	metrics.ObserveTask(string(task.State))
	span.SetAttributes(attribute.String("task.state", string(task.State)))
	w.archive(ctx, task, logger)

	if err != nil && w.cfg.AbortOnFatal && downloader.IsFatal(err) {
		return task, fmt.Errorf("%w: submission %s: %w", ErrAborted, sub.ID, err)
	}
	return task, nil
}

func (w *Worker) run(ctx context.Context, task *downloader.Task, logger *zap.Logger) (int64, error) {
	sub := task.Submission
	if reason := w.deps.Filter.Submission(sub); reason != filter.ReasonNone {
		task.State = downloader.StateFiltered
		logger.Debug("submission filtered", zap.String("reason", string(reason)))
		return 0, nil
	}

	w.transition(task, downloader.StateResolving, logger)
	resources, err := w.deps.Resolver.Dispatch(ctx, sub)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", sub.URL, err)
	}
	task.Resources = resources

	var written int64
	paths := w.deps.Namer.Paths(w.cfg.Directory, sub, resources)
	for i, res := range resources {
		n, err := w.resource(ctx, task, res, paths[i], logger.With(zap.String("url", res.URL), zap.String("path", paths[i])))
		written += n
		if err != nil {
			return written, err
		}
	}

	// Done only when a file landed on disk.
	if len(task.Written)+len(task.Linked) > 0 {
		task.State = downloader.StateDone
	} else {
		task.State = downloader.StateSkipped
	}
	logger.Info("submission finished",
		zap.String("state", string(task.State)),
		zap.Int("written", len(task.Written)),
		zap.Int("linked", len(task.Linked)),
		zap.Int("duplicates", len(task.Duplicates)),
		zap.Int("skipped", len(task.Skipped)),
	)
	return written, nil
}

func (w *Worker) resource(ctx context.Context, task *downloader.Task, res downloader.Resource, path string, logger *zap.Logger) (int64, error) {
	if reason := w.deps.Filter.Resource(res); reason != filter.ReasonNone {
		logger.Debug("resource filtered", zap.String("reason", string(reason)))
		task.Skipped = append(task.Skipped, path)
		return 0, nil
	}
	exists, err := fsutil.Exists(path)
	if err != nil {
		return 0, err
	}
	if exists {
		logger.Debug("destination already exists")
		task.Skipped = append(task.Skipped, path)
		return 0, nil
	}
	remote := res.Inline == nil
	if remote && w.deps.Index != nil {
		if _, seen := w.deps.Index.LookupURL(res.URL); seen {
			logger.Debug("url downloaded by an earlier run")
			task.Skipped = append(task.Skipped, path)
			return 0, nil
		}
	}

	w.transition(task, downloader.StateDownloading, logger)
	content := res.Inline
	if remote {
		resp, err := retry.Attempt(ctx, w.deps.Retry, w.cfg.Retry, func(ctx context.Context) (downloader.FetchResponse, error) {
			return w.deps.Fetcher.Fetch(ctx, downloader.FetchRequest{SubmissionID: task.Submission.ID, URL: res.URL})
		})
		if err != nil {
			return 0, fmt.Errorf("download %s: %w", res.URL, err)
		}
		content = resp.Body
	}

	w.transition(task, downloader.StateHashing, logger)
	digest, err := w.deps.Hasher.Hash(content)
	if err != nil {
		return 0, fmt.Errorf("hash %s: %w", path, err)
	}

	w.transition(task, downloader.StateDeduping, logger)
	item := dedup.Item{Path: path, Content: content, Modified: task.Submission.Created, Digest: digest}
	if remote {
		item.SourceURL = res.URL
	}
	out, err := w.deps.Committer.Commit(ctx, item, w.cfg.Dedup)
	if err != nil {
		var flushErr *downloader.FlushError
		if !errors.As(err, &flushErr) {
			return 0, fmt.Errorf("commit %s: %w", path, err)
		}
		w.deps.Tally.flushFailed()
		metrics.ObserveFailure(downloader.Classify(err))
		logger.Error("hash store flush failed, continuing", zap.String("backend", flushErr.Backend), zap.Error(err))
	}

	switch out.Decision {
	case downloader.DecisionWritten:
		task.Written = append(task.Written, out.Path)
	case downloader.DecisionLinked:
		task.Linked = append(task.Linked, out.Path)
	case downloader.DecisionDuplicate:
		task.Duplicates = append(task.Duplicates, out.Path)
		logger.Info("content already downloaded elsewhere", zap.String("digest", digest), zap.String("existing", out.Existing))
	}
	return out.Written, nil
}

func (w *Worker) transition(task *downloader.Task, to downloader.State, logger *zap.Logger) {
	logger.Debug("state transition", zap.String("from", string(task.State)), zap.String("to", string(to)))
	task.State = to
}

func (w *Worker) archive(ctx context.Context, task downloader.Task, logger *zap.Logger) {
	if w.deps.Sink == nil || task.State == downloader.StateFiltered {
		return
	}
	files := make([]string, 0, len(task.Written)+len(task.Linked))
	files = append(files, task.Written...)
	files = append(files, task.Linked...)
	record := downloader.Record{
		RunID:      w.cfg.RunID,
		Submission: task.Submission,
		State:      task.State,
		Files:      files,
		Finished:   w.deps.now(),
	}
	if err := w.deps.Sink.Write(ctx, record); err != nil {
		logger.Warn("record sink write failed", zap.Error(err))
	}
}

func (d Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock.Now()
}
