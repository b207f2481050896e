// Package memory provides the bounded in-memory submission queue between the
// source reader and the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan downloader.Submission
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan downloader.Submission, capacity),
	}
}

// Enqueue pushes a submission into the queue, blocking while it is full.
func (q *Queue) Enqueue(ctx context.Context, sub downloader.Submission) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- sub:
		return nil
	}
}

// Dequeue pops the next submission, respecting context cancellation.
// Buffered submissions are still delivered after Close.
func (q *Queue) Dequeue(ctx context.Context) (downloader.Submission, error) {
	select {
	case <-ctx.Done():
		return downloader.Submission{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case sub, ok := <-q.ch:
		if !ok {
			return downloader.Submission{}, ErrClosed
		}
		return sub, nil
	}
}

// Len reports the number of buffered submissions.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close marks the end of input. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
