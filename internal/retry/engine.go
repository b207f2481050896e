// Package retry wraps a single download attempt with a deterministic wait/retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/metrics"
)

const (
	// FailFastBaseDelay is the effective base delay in fail-fast mode.
	FailFastBaseDelay = 5 * time.Second
	defaultBaseDelay  = 60 * time.Second
	defaultMaxWait    = 120 * time.Second
)

// Policy controls how failures are waited on and retried.
type Policy struct {
	BaseDelay     time.Duration
	MaxWait       time.Duration
	FailFast      bool
	ImmediateFail map[downloader.ErrorKind]struct{}
}

// DefaultPolicy mirrors the stock downloader settings.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:     defaultBaseDelay,
		MaxWait:       defaultMaxWait,
		ImmediateFail: downloader.DefaultFatalKinds(),
	}
}

func (p Policy) normalized() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxWait <= 0 {
		p.MaxWait = defaultMaxWait
	}
	if p.ImmediateFail == nil {
		p.ImmediateFail = downloader.DefaultFatalKinds()
	}
	return p
}

func (p Policy) isFatal(kind downloader.ErrorKind) bool {
	_, ok := p.ImmediateFail[kind]
	return ok
}

// nextWait returns the wait after the n-th failure and whether it is the last one.
func (p Policy) nextWait(n int) (time.Duration, bool) {
	if p.FailFast {
		wait := FailFastBaseDelay
		if wait > p.MaxWait {
			wait = p.MaxWait
		}
		return wait, true
	}
	wait := p.BaseDelay * time.Duration(n)
	if wait >= p.MaxWait {
		return p.MaxWait, true
	}
	return wait, false
}

// Engine executes operations under a Policy.
type Engine struct {
	sleeper downloader.Sleeper
	logger  *zap.Logger
}

// New constructs an Engine. A nil sleeper uses real timers.
func New(sleeper downloader.Sleeper, logger *zap.Logger) *Engine {
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{sleeper: sleeper, logger: logger}
}

// Do runs op until it succeeds, fails fatally, or the policy's wait budget is spent.
// Exhaustion and fatal failures are reported as *downloader.DownloadFailedError.
func (e *Engine) Do(ctx context.Context, policy Policy, op func(context.Context) error) error {
	policy = policy.normalized()
	var (
		history []downloader.AttemptRecord
		final   bool
	)
	for n := 1; ; n++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("attempt %d abandoned: %w", n, ctxErr)
		}

		kind := Classify(err)
		record := downloader.AttemptRecord{Attempt: n, Err: err, Kind: kind}

		if policy.isFatal(kind) {
			history = append(history, record)
			e.logger.Debug("fatal error, not retrying", zap.Int("attempt", n), zap.String("kind", string(kind)), zap.Error(err))
			return &downloader.DownloadFailedError{Attempts: history, Fatal: true}
		}
		if final {
			history = append(history, record)
			return &downloader.DownloadFailedError{Attempts: history}
		}

		var wait time.Duration
		wait, final = policy.nextWait(n)
		record.Wait = wait
		history = append(history, record)
		metrics.ObserveRetryWait(string(kind), wait)
		e.logger.Warn("attempt failed, waiting before retry",
			zap.Int("attempt", n),
			zap.String("kind", string(kind)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := e.sleeper.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("retry wait interrupted: %w", err)
		}
	}
}

// Attempt is Do for operations that produce a value.
func Attempt[T any](ctx context.Context, e *Engine, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, policy, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// TimerSleeper sleeps on a real timer and wakes early on cancellation.
type TimerSleeper struct{}

// Sleep blocks the calling goroutine only.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// IsDownloadFailed reports whether err is a retry-exhausted or fatal download failure.
func IsDownloadFailed(err error) bool {
	var failed *downloader.DownloadFailedError
	return errors.As(err, &failed)
}
