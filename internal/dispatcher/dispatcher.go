// Package dispatcher feeds submissions to a pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/source"
	"github.com/JakeFAU/submission-downloader/internal/worker"
)

const finalFlushTimeout = 30 * time.Second

// Queue is the bounded buffer between the source reader and the workers.
type Queue interface {
	Enqueue(ctx context.Context, sub downloader.Submission) error
	Dequeue(ctx context.Context) (downloader.Submission, error)
	Close()
}

// Runner consumes a queue until it is drained. *worker.Worker implements it.
type Runner interface {
	Run(ctx context.Context, queue worker.Queue) error
}

// Flusher persists state once the workers stop.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Dispatcher fans queue work out to a pool of workers. A pool of one runs
// submissions strictly in source order.
type Dispatcher struct {
	queue   Queue
	workers []Runner
	flusher Flusher
	logger  *zap.Logger
}

// New creates a Dispatcher. flusher may be nil.
func New(queue Queue, workers []Runner, flusher Flusher, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, workers: workers, flusher: flusher, logger: logger}
}

// Run reads src into the queue and blocks until every worker has stopped. It
// then makes one best-effort flush, even when ctx was canceled. The first
// worker or reader error cancels the rest of the run and is returned.
func (d *Dispatcher) Run(ctx context.Context, src downloader.SubmissionSource) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer d.queue.Close()
		return d.feed(gctx, src)
	})
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx, d.queue)
		})
	}
	err := g.Wait()
	d.flush(ctx)
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// enqueue wraps queue errors with context for the feeder.
func (d *Dispatcher) enqueue(ctx context.Context, sub downloader.Submission) error {
	if err := d.queue.Enqueue(ctx, sub); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (d *Dispatcher) feed(ctx context.Context, src downloader.SubmissionSource) error {
	read := 0
	for {
		sub, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			d.logger.Info("submission source exhausted", zap.Int("read", read))
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, source.ErrMalformedLine):
			d.logger.Warn("skipping malformed submission", zap.Error(err))
			continue
		case err != nil:
			return fmt.Errorf("read submissions: %w", err)
		}
		if err := d.enqueue(ctx, sub); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		read++
	}
}

func (d *Dispatcher) flush(ctx context.Context) {
	if d.flusher == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	if err := d.flusher.Flush(flushCtx); err != nil {
		d.logger.Error("final hash store flush failed", zap.Error(err))
		return
	}
	d.logger.Debug("hash store flushed")
}
