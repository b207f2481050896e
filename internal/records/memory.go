package records

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("record sink closed")

// Memory keeps records for inspection.
type Memory struct {
	mu      sync.RWMutex
	records []downloader.Record
	closed  bool
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Write appends record.
func (m *Memory) Write(_ context.Context, record downloader.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, record)
	return nil
}

// Records returns a copy of everything written.
func (m *Memory) Records() []downloader.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]downloader.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Close rejects further writes.
func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
